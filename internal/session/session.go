// Package session implements the Session Coordinator: a singleton owning
// at-most-one active cast session, serializing every session-modifying
// operation the way the teacher's Server serializes access to its own
// process-lifetime state (spec.md §4.4, O2).
package session

import (
	"context"
	"math"
	"sync"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/cast"
	"github.com/castbridge/castd/internal/castderr"
	"github.com/castbridge/castd/internal/directory"
)

// State is the session lifecycle position reported in Status.
type State string

const (
	StateConnecting State = "connecting"
	StateBuffering  State = "buffering"
	StatePlaying    State = "playing"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// Action is a uniform control-plane command, per spec.md §4.4's
// control(action, value?) vocabulary.
type Action string

const (
	ActionPlay   Action = "play"
	ActionPause  Action = "pause"
	ActionSeek   Action = "seek"
	ActionVolume Action = "volume"
	ActionStop   Action = "stop"
)

// Status is the snapshot returned by status(); it never fails.
type Status struct {
	Casting    bool
	DeviceID   string
	DeviceName string
	Position   float64
	Duration   float64
	Paused     bool
	State      State
}

// ClientFactory builds a protocol client for a device; overridable in
// tests to avoid real network I/O.
type ClientFactory func(logger log.Logger, device directory.Device) (cast.Client, error)

type liveSession struct {
	device   directory.Device
	client   cast.Client
	position float64
	duration float64
	paused   bool
	state    State
}

// Coordinator is the single owner of the at-most-one active Session
// (I2, I3). All operations take the coordinator's mutex, matching the
// actor-like serial executor spec.md §5 requires.
type Coordinator struct {
	mu        sync.Mutex
	dir       *directory.Directory
	logger    log.Logger
	newClient ClientFactory
	current   *liveSession
}

func New(logger log.Logger, dir *directory.Directory) *Coordinator {
	return &Coordinator{
		dir:       dir,
		logger:    logger.WithNames("session"),
		newClient: func(l log.Logger, d directory.Device) (cast.Client, error) { return cast.NewClient(l, d) },
	}
}

// WithClientFactory overrides how protocol clients are constructed. Used
// by tests to inject fakes.
func (c *Coordinator) WithClientFactory(f ClientFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newClient = f
}

// Start implements spec.md §4.4's start logic: stop any prior session,
// look up the device, construct its client, and drive the load sequence.
// On any failure after client construction the client is torn down and no
// session is left live.
func (c *Coordinator) Start(ctx context.Context, deviceID, mediaURL string, startPosition float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(ctx)

	device, ok := c.dir.Get(deviceID)
	if !ok {
		return castderr.New(castderr.DeviceNotFound, "no such device: "+deviceID)
	}
	if mediaURL == "" {
		return castderr.New(castderr.InvalidAddress, "mediaUrl must not be empty")
	}

	client, err := c.newClient(c.logger, device)
	if err != nil {
		return err
	}
	if reporter, ok := client.(cast.StatusReporter); ok {
		reporter.SetOnStatus(func(position, duration float64, paused bool) {
			c.UpdatePosition(device.ID, position, duration, paused)
		})
	}

	live := &liveSession{device: device, client: client, state: StateConnecting}
	c.current = live

	if err := client.Connect(ctx); err != nil {
		c.teardownLocked()
		return err
	}
	if err := client.LoadMedia(ctx, mediaURL, startPosition); err != nil {
		c.teardownLocked()
		return err
	}

	live.position = startPosition
	live.state = StateBuffering
	return nil
}

// Control dispatches a uniform command to the live session's client.
func (c *Coordinator) Control(ctx context.Context, action Action, value float64, hasValue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.current
	if live == nil {
		return castderr.New(castderr.NotCasting, "Not currently casting")
	}

	switch action {
	case ActionPlay:
		if err := live.client.Play(ctx); err != nil {
			return err
		}
		live.paused = false
		live.state = StatePlaying
	case ActionPause:
		if err := live.client.Pause(ctx); err != nil {
			return err
		}
		live.paused = true
		live.state = StatePaused
	case ActionSeek:
		if !hasValue {
			return castderr.New(castderr.InvalidAddress, "seek requires a numeric value")
		}
		if err := live.client.Seek(ctx, value); err != nil {
			return err
		}
		live.position = value
	case ActionVolume:
		if !hasValue {
			return castderr.New(castderr.InvalidAddress, "volume requires a numeric value")
		}
		level := int(math.Round(value))
		if err := live.client.SetVolume(ctx, level); err != nil {
			return err
		}
	case ActionStop:
		c.stopLocked(ctx)
	default:
		return castderr.New(castderr.UnknownAction, "unknown action: "+string(action))
	}
	return nil
}

// Stop tears down the live session, if any. Idempotent; protocol-level
// errors during teardown are logged but never prevent clearing state.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(ctx)
}

// stopLocked sends the protocol-level Stop to the active client before
// tearing down its connection, so the renderer actually halts playback
// instead of merely losing its control channel. Errors from either step
// are logged but never prevent clearing state, per spec.md §4.4's stop()
// guarantee.
func (c *Coordinator) stopLocked(ctx context.Context) {
	if c.current == nil {
		return
	}
	if err := c.current.client.Stop(ctx); err != nil {
		c.logger.Levelf(log.Debug, "stop: %s", err)
	}
	if err := c.current.client.Disconnect(ctx); err != nil {
		c.logger.Levelf(log.Debug, "teardown: %s", err)
	}
	c.current = nil
}

// teardownLocked is used when Start fails partway through, leaving no
// residual session per step 5 of the start logic.
func (c *Coordinator) teardownLocked() {
	if c.current == nil {
		return
	}
	_ = c.current.client.Stop(context.Background())
	_ = c.current.client.Disconnect(context.Background())
	c.current = nil
}

// Status reports a snapshot of the live session. Never fails.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Status{Casting: false, State: StateStopped}
	}
	live := c.current
	return Status{
		Casting:    true,
		DeviceID:   live.device.ID,
		DeviceName: live.device.Name,
		Position:   live.position,
		Duration:   live.duration,
		Paused:     live.paused,
		State:      live.state,
	}
}

// UpdatePosition is called by protocol clients' status callbacks (the
// AirPlay poller, the DLNA poller, CASTV2 unsolicited MEDIA_STATUS) to
// keep the cached position/duration/paused current without requiring a
// control-plane round trip. Start wires every cast.StatusReporter client
// to this method via SetOnStatus.
func (c *Coordinator) UpdatePosition(deviceID string, position, duration float64, paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.device.ID != deviceID {
		return
	}
	c.current.position = position
	c.current.duration = duration
	c.current.paused = paused
}
