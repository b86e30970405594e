// Package airplay implements the AirPlay HTTP control client described in
// spec.md §4.3.3: binary-plist and URL-parameter endpoints on port 7000,
// plus a background status poller.
package airplay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/anacrolix/log"
	"github.com/google/uuid"
	"howett.net/plist"

	"github.com/castbridge/castd/internal/castderr"
	"github.com/castbridge/castd/internal/directory"
)

const (
	httpTimeout  = 30 * time.Second
	pollInterval = 1 * time.Second
	userAgent    = "MediaControl/1.0"
)

// Status is the decoded subset of /playback-info this client cares about.
type Status struct {
	Position float64
	Duration float64
	Paused   bool
}

// Client drives a single AirPlay receiver.
type Client struct {
	device    directory.Device
	logger    log.Logger
	httpc     *http.Client
	sessionID string

	mu       sync.Mutex
	pollStop context.CancelFunc
	last     Status
	onStatus func(position, duration float64, paused bool)
}

// SetOnStatus registers the callback invoked from the polling goroutine
// with every refreshed status; the session coordinator wires this to its
// own cache so GET /status reflects what the poller last saw.
func (c *Client) SetOnStatus(f func(position, duration float64, paused bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = f
}

func New(logger log.Logger, device directory.Device) *Client {
	return &Client{
		device:    device,
		logger:    logger.WithNames("airplay", device.ID),
		httpc:     &http.Client{Timeout: httpTimeout},
		sessionID: uuid.NewString(),
	}
}

func (c *Client) baseURL() string {
	port := c.device.Port
	if port == 0 {
		port = 7000
	}
	return fmt.Sprintf("http://%s:%d", c.device.Address, port)
}

func (c *Client) Connect(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, "/server-info", nil, "")
	return err
}

// LoadMedia issues /play with Content-Location and a Start-Position
// fraction. Per spec.md's Open Questions, Start-Position is the fraction
// of duration already played (0..1), not seconds/100 as the original
// source computed it — that arithmetic is not replicated here.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	fraction := startPosition
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	body, err := plist.Marshal(map[string]interface{}{
		"Content-Location": mediaURL,
		"Start-Position":   fraction,
	}, plist.BinaryFormat)
	if err != nil {
		return castderr.Wrap(castderr.AirPlay, "marshal /play body", err)
	}
	_, err = c.request(ctx, http.MethodPost, "/play", bytes.NewReader(body), "application/x-apple-binary-plist")
	if err != nil {
		return err
	}
	c.startPolling()
	return nil
}

func (c *Client) Play(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, "/rate?value=1", nil, "")
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodPost, "/rate?value=0", nil, "")
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	c.stopPolling()
	_, err := c.request(ctx, http.MethodPost, "/stop", nil, "")
	return err
}

func (c *Client) Seek(ctx context.Context, position float64) error {
	_, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/scrub?position=%f", position), nil, "")
	return err
}

// SetVolume is a no-op for AirPlay per spec.md §4.4: the uniform control
// vocabulary accepts the command but AirPlay volume is not specified.
func (c *Client) SetVolume(ctx context.Context, level int) error { return nil }

func (c *Client) Disconnect(ctx context.Context) error {
	c.stopPolling()
	return nil
}

// Photo PUTs raw JPEG bytes to /photo, the still-image sibling of /play.
func (c *Client) Photo(ctx context.Context, jpeg []byte) error {
	_, err := c.request(ctx, http.MethodPut, "/photo", bytes.NewReader(jpeg), "image/jpeg")
	return err
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, body)
	if err != nil {
		return nil, castderr.Wrap(castderr.AirPlay, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Apple-Session-ID", c.sessionID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, castderr.Wrap(castderr.ConnectionFailed, method+" "+path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, castderr.AirPlayf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return data, nil
}

// playbackInfo is the subset of /playback-info's property list this
// client decodes.
type playbackInfo struct {
	Duration float64 `plist:"duration"`
	Position float64 `plist:"position"`
	Rate     float64 `plist:"rate"`
}

func (c *Client) fetchStatus(ctx context.Context) (Status, error) {
	data, err := c.request(ctx, http.MethodGet, "/playback-info", nil, "")
	if err != nil {
		return Status{}, err
	}
	var info playbackInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return Status{}, castderr.Wrap(castderr.AirPlay, "decode /playback-info", err)
	}
	return Status{
		Position: info.Position,
		Duration: info.Duration,
		Paused:   info.Rate == 0 && info.Duration > 0,
	}, nil
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

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := c.fetchStatus(ctx)
			if err != nil {
				c.logger.Levelf(log.Debug, "poll status: %s", err)
				continue
			}
			c.mu.Lock()
			c.last = status
			onStatus := c.onStatus
			c.mu.Unlock()
			if onStatus != nil {
				onStatus(status.Position, status.Duration, status.Paused)
			}
		}
	}
}

// LastStatus returns the most recently polled status snapshot.
func (c *Client) LastStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
