// Package chromecast implements the CASTV2 protocol client described in
// spec.md §4.3.1: TLS-framed, length-prefixed protobuf frames carrying
// JSON payloads, a launch/load/command state machine, and a heartbeat
// watchdog.
package chromecast

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/castderr"
	"github.com/castbridge/castd/internal/cast/chromecast/wire"
	"github.com/castbridge/castd/internal/directory"
)

const (
	dialTimeout      = 10 * time.Second
	operationTimeout = 30 * time.Second
	pingInterval     = 5 * time.Second
	pongDeadline     = 15 * time.Second
	watchdogInterval = 1 * time.Second
)

type state int

const (
	stateDisconnected state = iota
	stateReceiverReady
	stateAppReady
	stateActive
	stateError
)

// Client drives a single Chromecast receiver's CASTV2 channel.
type Client struct {
	device directory.Device
	logger log.Logger

	writeMu sync.Mutex // serializes outbound frame writes (O3, O4)
	conn    *tls.Conn

	requestID int64 // atomic counter, §4.3.1 "restarts from 1 on each new channel"

	mu            sync.Mutex
	st            state
	transportID   string
	sessionID     string
	mediaSession  int
	lastPong      time.Time
	pendingByReq  map[int]chan inboundEnvelope
	heartbeatStop context.CancelFunc
	recvStop      context.CancelFunc
	connErr       error
	onStatus      func(position, duration float64, paused bool)
}

func New(logger log.Logger, device directory.Device) *Client {
	return &Client{
		device:       device,
		logger:       logger.WithNames("chromecast", device.ID),
		pendingByReq: make(map[int]chan inboundEnvelope),
	}
}

// SetOnStatus registers the callback invoked whenever an unsolicited
// MEDIA_STATUS frame arrives; the session coordinator wires this to its
// own cache so GET /status reflects device-driven position/duration
// changes between control-plane round trips.
func (c *Client) SetOnStatus(f func(position, duration float64, paused bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = f
}

func (c *Client) nextRequestID() int {
	return int(atomic.AddInt64(&c.requestID, 1))
}

// Connect dials the CASTV2 channel, sends CONNECT to the platform
// receiver, and starts the heartbeat watchdog. On return the client is in
// receiver-ready state.
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.device.Address, c.portOrDefault())
	dialer := &net.Dialer{Timeout: dialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return castderr.Wrap(castderr.ConnectionFailed, "dial "+addr, err)
	}
	conn := tls.Client(rawConn, insecureTLSConfig())
	if err := conn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return castderr.Wrap(castderr.ConnectionFailed, "tls handshake", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastPong = time.Now()
	c.mu.Unlock()
	atomic.StoreInt64(&c.requestID, 0)

	recvCtx, recvCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.recvStop = recvCancel
	c.mu.Unlock()
	go c.recvLoop(recvCtx)

	if err := c.send(nsConnection, receiverDestID, mustMarshal(connectPayload{Type: "CONNECT"})); err != nil {
		c.teardown()
		return castderr.Wrap(castderr.ConnectionFailed, "send CONNECT", err)
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.heartbeatStop = hbCancel
	c.st = stateReceiverReady
	c.mu.Unlock()
	go c.heartbeatLoop(hbCtx)

	return nil
}

func (c *Client) portOrDefault() int {
	if c.device.Port != 0 {
		return c.device.Port
	}
	return 8009
}

// LoadMedia launches the default media receiver, connects to
// its transport, and issues LOAD, per the state machine in §4.3.1.
func (c *Client) LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	reqID := c.nextRequestID()
	waiter := c.registerWaiter(reqID)
	defer c.unregisterWaiter(reqID)

	if err := c.send(nsReceiver, receiverDestID, mustMarshal(launchPayload{
		Type:      "LAUNCH",
		RequestID: reqID,
		AppID:     defaultReceiverAppID,
	})); err != nil {
		return castderr.Wrap(castderr.ConnectionFailed, "send LAUNCH", err)
	}

	env, err := c.awaitByTypeOrRequestID(ctx, waiter, "RECEIVER_STATUS")
	if err != nil {
		return err
	}
	var rs receiverStatus
	if err := json.Unmarshal(env.Status, &rs); err != nil || len(rs.Applications) == 0 {
		return castderr.Chromecastf("no transportId in RECEIVER_STATUS")
	}
	app := rs.Applications[0]
	if app.TransportID == "" {
		return castderr.Chromecastf("no transportId in RECEIVER_STATUS")
	}

	c.mu.Lock()
	c.transportID = app.TransportID
	c.sessionID = app.SessionID
	c.st = stateAppReady
	c.mu.Unlock()

	if err := c.send(nsConnection, app.TransportID, mustMarshal(connectPayload{Type: "CONNECT"})); err != nil {
		return castderr.Wrap(castderr.ConnectionFailed, "connect to transport", err)
	}

	loadReqID := c.nextRequestID()
	loadWaiter := c.registerWaiter(loadReqID)
	defer c.unregisterWaiter(loadReqID)

	if err := c.send(nsMedia, app.TransportID, mustMarshal(loadPayload{
		Type:        "LOAD",
		RequestID:   loadReqID,
		Autoplay:    true,
		CurrentTime: startPosition,
		Media: mediaInfo{
			ContentID:   mediaURL,
			ContentType: "video/mp4",
			StreamType:  "BUFFERED",
		},
	})); err != nil {
		return castderr.Wrap(castderr.ConnectionFailed, "send LOAD", err)
	}

	mediaEnv, err := c.awaitByTypeOrRequestID(ctx, loadWaiter, "MEDIA_STATUS")
	if err != nil {
		return err
	}
	var statuses []mediaStatusEntry
	if err := json.Unmarshal(mediaEnv.Status, &statuses); err != nil || len(statuses) == 0 {
		return castderr.Chromecastf("no mediaSessionId in MEDIA_STATUS")
	}

	c.mu.Lock()
	c.mediaSession = statuses[0].MediaSessionID
	c.st = stateActive
	c.mu.Unlock()
	return nil
}

func (c *Client) mediaCommand(kind string, currentTime float64) error {
	c.mu.Lock()
	transportID := c.transportID
	mediaSession := c.mediaSession
	c.mu.Unlock()
	if transportID == "" {
		return castderr.Chromecastf("no active session")
	}
	return c.send(nsMedia, transportID, mustMarshal(mediaCommandPayload{
		Type:           kind,
		RequestID:      c.nextRequestID(),
		MediaSessionID: mediaSession,
		CurrentTime:    currentTime,
	}))
}

func (c *Client) Play(ctx context.Context) error  { return c.mediaCommand("PLAY", 0) }
func (c *Client) Pause(ctx context.Context) error { return c.mediaCommand("PAUSE", 0) }
func (c *Client) Stop(ctx context.Context) error {
	err := c.mediaCommand("STOP", 0)
	c.teardown()
	return err
}
func (c *Client) Seek(ctx context.Context, position float64) error {
	return c.mediaCommand("SEEK", position)
}

// SetVolume maps the uniform 0..100 control value to CASTV2's 0..1 range.
func (c *Client) SetVolume(ctx context.Context, level int) error {
	return c.send(nsReceiver, receiverDestID, mustMarshal(setVolumePayload{
		Type:      "SET_VOLUME",
		RequestID: c.nextRequestID(),
		Volume:    volumeValue{Level: float64(level) / 100},
	}))
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.heartbeatStop != nil {
		c.heartbeatStop()
		c.heartbeatStop = nil
	}
	if c.recvStop != nil {
		c.recvStop()
		c.recvStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.st = stateDisconnected
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) send(namespace, destination, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return castderr.New(castderr.ConnectionFailed, "not connected")
	}
	return wire.WriteFrame(conn, wire.Message{
		ProtocolVersion: 0,
		SourceID:        senderID,
		DestinationID:   destination,
		Namespace:       namespace,
		PayloadType:     wire.PayloadTypeString,
		PayloadUTF8:     payload,
	})
}

func (c *Client) registerWaiter(reqID int) chan inboundEnvelope {
	ch := make(chan inboundEnvelope, 1)
	c.mu.Lock()
	c.pendingByReq[reqID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregisterWaiter(reqID int) {
	c.mu.Lock()
	delete(c.pendingByReq, reqID)
	c.mu.Unlock()
}

// awaitByTypeOrRequestID blocks until a message matching wantType arrives
// on waiter, ctx is cancelled, or the connection is declared lost.
func (c *Client) awaitByTypeOrRequestID(ctx context.Context, waiter chan inboundEnvelope, wantType string) (inboundEnvelope, error) {
	for {
		select {
		case env, ok := <-waiter:
			if !ok {
				return inboundEnvelope{}, castderr.New(castderr.ConnectionFailed, "channel lost while waiting for "+wantType)
			}
			if env.Type == wantType {
				return env, nil
			}
		case <-ctx.Done():
			return inboundEnvelope{}, castderr.New(castderr.Timeout, "waiting for "+wantType)
		}
	}
}

func (c *Client) recvLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongDeadline + pingInterval))
		msg, err := wire.ReadFrame(conn)
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			c.logger.Levelf(log.Debug, "recv loop: %s", err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg wire.Message) {
	var env inboundEnvelope
	if err := json.Unmarshal([]byte(msg.PayloadUTF8), &env); err != nil {
		c.logger.Levelf(log.Debug, "dispatch: bad payload: %s", err)
		return
	}

	switch env.Type {
	case "PONG":
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return
	case "RECEIVER_STATUS", "MEDIA_STATUS":
		if env.RequestID != nil {
			c.mu.Lock()
			waiter, ok := c.pendingByReq[*env.RequestID]
			c.mu.Unlock()
			if ok {
				select {
				case waiter <- env:
				default:
				}
				return
			}
		}
		// Unsolicited status update; cache what we can for status().
		if env.Type == "MEDIA_STATUS" {
			var statuses []mediaStatusEntry
			if err := json.Unmarshal(env.Status, &statuses); err == nil && len(statuses) > 0 {
				entry := statuses[0]
				c.mu.Lock()
				c.mediaSession = entry.MediaSessionID
				onStatus := c.onStatus
				c.mu.Unlock()
				if onStatus != nil {
					duration := 0.0
					if entry.Media != nil {
						duration = entry.Media.Duration
					}
					onStatus(entry.CurrentTime, duration, entry.PlayerState == "PAUSED")
				}
			}
		}
	default:
		c.logger.Levelf(log.Debug, "unhandled inbound type %q", env.Type)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := c.send(nsHeartbeat, receiverDestID, mustMarshal(pingPayload{Type: "PING"})); err != nil {
				c.logger.Levelf(log.Debug, "heartbeat send: %s", err)
			}
		case <-watchdog.C:
			c.mu.Lock()
			sincePong := time.Since(c.lastPong)
			c.mu.Unlock()
			if sincePong > pongDeadline {
				c.declareLost()
				return
			}
		}
	}
}

// declareLost implements the heartbeat failure policy in §4.3.1: three
// consecutive unanswered PINGs (15s of silence) mark the channel dead,
// fail any in-flight operation, and tear down the connection.
func (c *Client) declareLost() {
	c.mu.Lock()
	c.st = stateError
	c.connErr = castderr.New(castderr.ConnectionFailed, "heartbeat timeout")
	waiters := c.pendingByReq
	c.pendingByReq = make(map[int]chan inboundEnvelope)
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	c.logger.Levelf(log.Info, "heartbeat lost, tearing down channel")
	c.teardown()
	c.mu.Lock()
	c.st = stateError
	c.mu.Unlock()
}

// State reports the client's current state machine position as a
// session-state string.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.st {
	case stateReceiverReady, stateAppReady:
		return "buffering"
	case stateActive:
		return "playing"
	case stateError:
		return "error"
	default:
		return "stopped"
	}
}
