// Package dlna implements the UPnP AV (DLNA) control client described in
// spec.md §4.3.2: stateless SOAP actions against a device's AVTransport
// and RenderingControl control URLs, with DIDL-Lite metadata.
//
// The SOAP envelope shape and the choice of scoped tag extraction over a
// generic XML/SOAP client both follow the teacher (anacrolix/dms), which
// builds its own envelopes by hand in dms.go rather than reaching for a
// SOAP library.
package dlna

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/castderr"
	"github.com/castbridge/castd/internal/directory"
)

const (
	httpTimeout  = 30 * time.Second
	pollInterval = 1 * time.Second
)

// Client drives the AVTransport/RenderingControl actions of a single
// DLNA MediaRenderer. Unlike the Chromecast client, there is no
// persistent channel: every operation is an independent SOAP POST, but a
// background poller re-issues GetPositionInfo/GetTransportInfo on the
// same cadence as the AirPlay client's status poller to keep the
// coordinator's cache current.
type Client struct {
	device directory.Device
	logger log.Logger
	httpc  *http.Client

	avTransportURL      string
	renderingControlURL string

	mu       sync.Mutex
	pollStop context.CancelFunc
	onStatus func(position, duration float64, paused bool)
}

func New(logger log.Logger, device directory.Device) *Client {
	return &Client{
		device: device,
		logger: logger.WithNames("dlna", device.ID),
		httpc:  &http.Client{Timeout: httpTimeout},

		avTransportURL:      device.ControlURLs["AVTransport"],
		renderingControlURL: device.ControlURLs["RenderingControl"],
	}
}

// SetOnStatus registers the callback invoked from the polling goroutine
// with every refreshed position/duration/paused reading; the session
// coordinator wires this to its own cache.
func (c *Client) SetOnStatus(f func(position, duration float64, paused bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = f
}

// Connect has nothing to establish for DLNA; it only validates the
// device carries the control URLs discovery extracted.
func (c *Client) Connect(ctx context.Context) error {
	if c.avTransportURL == "" {
		return castderr.New(castderr.InvalidAddress, "device has no AVTransport control URL")
	}
	return nil
}

// LoadMedia drives SetAVTransportURI -> Play -> (optional) Seek, per the
// load sequence in spec.md §4.3.2.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	metadata := didlLite(titleFromURL(mediaURL), "video/mp4")
	args := arg("InstanceID", "0") +
		arg("CurrentURI", mediaURL) +
		arg("CurrentURIMetaData", metadata)
	if _, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "SetAVTransportURI", args); err != nil {
		return err
	}

	if _, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "Play",
		arg("InstanceID", "0")+arg("Speed", "1")); err != nil {
		return err
	}

	if startPosition > 0 {
		if err := c.Seek(ctx, startPosition); err != nil {
			return err
		}
	}
	c.startPolling()
	return nil
}

func titleFromURL(mediaURL string) string {
	if u, err := url.Parse(mediaURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return mediaURL
}

func (c *Client) Play(ctx context.Context) error {
	_, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "Play",
		arg("InstanceID", "0")+arg("Speed", "1"))
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "Pause", arg("InstanceID", "0"))
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	c.stopPolling()
	_, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "Stop", arg("InstanceID", "0"))
	return err
}

func (c *Client) Seek(ctx context.Context, position float64) error {
	args := arg("InstanceID", "0") + arg("Unit", "REL_TIME") + arg("Target", formatTime(position))
	_, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "Seek", args)
	return err
}

// SetVolume maps the uniform 0..100 control value directly onto DLNA's
// own 0..100 RenderingControl scale.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	if c.renderingControlURL == "" {
		return castderr.DLNAf("device has no RenderingControl control URL")
	}
	args := arg("InstanceID", "0") + arg("Channel", "Master") + arg("DesiredVolume", fmt.Sprint(level))
	_, err := c.doSOAP(ctx, c.renderingControlURL, renderingControlURN, "SetVolume", args)
	return err
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.stopPolling()
	return nil
}

// PositionInfo queries GetPositionInfo, returning elapsed and total
// duration in seconds.
func (c *Client) PositionInfo(ctx context.Context) (elapsed, duration int, err error) {
	resp, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "GetPositionInfo", arg("InstanceID", "0"))
	if err != nil {
		return 0, 0, err
	}
	elapsed, _ = parseTime(resp.get("RelTime"))
	duration, _ = parseTime(resp.get("TrackDuration"))
	return elapsed, duration, nil
}

// TransportState queries GetTransportInfo and returns the raw
// CurrentTransportState string (STOPPED, PLAYING, PAUSED_PLAYBACK,
// TRANSITIONING, NO_MEDIA_PRESENT).
func (c *Client) TransportState(ctx context.Context) (string, error) {
	resp, err := c.doSOAP(ctx, c.avTransportURL, avTransportURN, "GetTransportInfo", arg("InstanceID", "0"))
	if err != nil {
		return "", err
	}
	return resp.get("CurrentTransportState"), nil
}

func (c *Client) startPolling() {
	c.mu.Lock()
	if c.pollStop != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollStop = cancel
	c.mu.Unlock()

	go c.pollLoop(ctx)
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	stop := c.pollStop
	c.pollStop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// pollLoop re-issues GetPositionInfo/GetTransportInfo every pollInterval,
// the same cadence the AirPlay client uses for /playback-info, so the
// coordinator's cached position/duration/paused stays current for a
// renderer with no push channel of its own.
func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed, duration, err := c.PositionInfo(ctx)
			if err != nil {
				c.logger.Levelf(log.Debug, "poll position: %s", err)
				continue
			}
			state, err := c.TransportState(ctx)
			if err != nil {
				c.logger.Levelf(log.Debug, "poll transport state: %s", err)
				continue
			}
			c.mu.Lock()
			onStatus := c.onStatus
			c.mu.Unlock()
			if onStatus != nil {
				onStatus(float64(elapsed), float64(duration), state == "PAUSED_PLAYBACK")
			}
		}
	}
}
