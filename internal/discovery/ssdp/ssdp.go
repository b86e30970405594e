// Package ssdp implements the SSDP M-SEARCH discovery client described in
// spec.md §4.2.2: a single multicast M-SEARCH datagram followed by a
// receive loop that resolves each responding LOCATION to a Device.
//
// The socket handling follows the listen/send pair in
// grimm-is-glacic/internal/toolbox/mcast.go; the request framing and the
// friendlyName/UDN extraction follow the device-description handling the
// teacher (anacrolix/dms) implements from the server side.
package ssdp

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/net/ipv4"

	"github.com/castbridge/castd/internal/directory"
)

const (
	multicastAddr = "239.255.255.250:1900"
	searchTarget  = "urn:schemas-upnp-org:device:MediaRenderer:1"
	recvTimeout   = 5 * time.Second
)

var mSearchRequest = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 3\r\n" +
	"ST: " + searchTarget + "\r\n" +
	"\r\n"

// OnDevice is invoked for every successfully described MediaRenderer.
type OnDevice func(directory.Device)

// deviceDescription is the minimal tag-scoped extraction of the handful
// of fields SSDP discovery needs out of a UPnP device description
// document; full DOM parsing is unnecessary for this fixed schema, per
// spec.md §9.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		UDN          string `xml:"UDN"`
		ServiceList  struct {
			Service []struct {
				ServiceType string `xml:"serviceType"`
				ControlURL  string `xml:"controlURL"`
			} `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

// Client runs one SSDP discovery pass per Run call.
type Client struct {
	logger   log.Logger
	onDevice OnDevice
	httpc    *http.Client

	mu   sync.Mutex
	seen map[string]bool
}

func New(logger log.Logger, onDevice OnDevice) *Client {
	return &Client{
		logger:   logger.WithNames("ssdp"),
		onDevice: onDevice,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		seen:     make(map[string]bool),
	}
}

// Reset clears the de-duplication set. Called on directory refresh so a
// previously-skipped LOCATION can be retried, per §4.2.2 step 5.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]bool)
}

// multicastTTL matches the hop count recommended by the SSDP spec for
// M-SEARCH datagrams crossing typical home-network topologies.
const multicastTTL = 4

// Run sends one M-SEARCH datagram and processes responses until the
// socket's rolling receive timeout elapses with nothing more arriving, or
// stop is closed.
func (c *Client) Run(stop <-chan struct{}) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("ssdp: listen: %w", err)
	}
	defer conn.Close()

	if err := setReuseAddr(conn); err != nil {
		c.logger.Levelf(log.Debug, "set reuseaddr: %s", err)
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		c.logger.Levelf(log.Debug, "set multicast ttl: %s", err)
	}

	dst, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return fmt.Errorf("ssdp: resolve multicast addr: %w", err)
	}
	if _, err := conn.WriteTo([]byte(mSearchRequest), dst); err != nil {
		return fmt.Errorf("ssdp: send M-SEARCH: %w", err)
	}

	buf := make([]byte, 2048)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return fmt.Errorf("ssdp: read: %w", err)
		}
		c.handleResponse(buf[:n])
	}
}

func (c *Client) handleResponse(data []byte) {
	location := extractHeader(data, "LOCATION")
	if location == "" {
		return
	}

	c.mu.Lock()
	if c.seen[location] {
		c.mu.Unlock()
		return
	}
	c.seen[location] = true
	c.mu.Unlock()

	dev, err := c.describe(location)
	if err != nil {
		c.logger.Levelf(log.Info, "describe %s: %s", location, err)
		return
	}
	if dev == nil {
		return
	}
	c.onDevice(*dev)
}

func (c *Client) describe(location string) (*directory.Device, error) {
	resp, err := c.httpc.Get(location)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", location, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}
	if desc.Device.FriendlyName == "" || desc.Device.UDN == "" {
		// Silently skip, per §4.2.2 step on responses lacking either field.
		return nil, nil
	}

	base, err := baseURL(location)
	if err != nil {
		return nil, err
	}

	port := 80
	if p := base.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	controlURLs := map[string]string{}
	for _, svc := range desc.Device.ServiceList.Service {
		name := lastURNSegment(svc.ServiceType)
		if ref, err := url.Parse(svc.ControlURL); err == nil {
			controlURLs[name] = base.ResolveReference(ref).String()
		}
	}

	dev := directory.Device{
		ID:          "dlna-" + stableHash(desc.Device.UDN),
		Name:        desc.Device.FriendlyName,
		Type:        directory.DLNA,
		Address:     base.String(),
		Port:        port,
		ControlURLs: controlURLs,
	}
	return &dev, nil
}

// baseURL strips the last path component off the description URL, per
// §4.2.2 step 4 ("the description URL with its last path component
// stripped").
func baseURL(location string) (*url.URL, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	idx := strings.LastIndex(u.Path, "/")
	if idx >= 0 {
		u.Path = u.Path[:idx+1]
	}
	return u, nil
}

func extractHeader(data []byte, name string) string {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	prefix := strings.ToUpper(name) + ":"
	for scanner.Scan() {
		line := scanner.Text()
		upper := strings.ToUpper(strings.TrimSpace(line))
		if strings.HasPrefix(upper, prefix) {
			return strings.TrimSpace(line[len(name)+1:])
		}
	}
	return ""
}

func stableHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func lastURNSegment(urn string) string {
	parts := strings.Split(urn, ":")
	if len(parts) < 2 {
		return urn
	}
	return parts[len(parts)-2]
}
