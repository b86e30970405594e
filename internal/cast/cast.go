// Package cast defines the uniform control surface implemented by each
// protocol client (CASTV2, DLNA, AirPlay) and the constructor that
// chooses one of them based on a device's discovered type.
package cast

import (
	"context"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/cast/airplay"
	"github.com/castbridge/castd/internal/cast/chromecast"
	"github.com/castbridge/castd/internal/cast/dlna"
	"github.com/castbridge/castd/internal/castderr"
	"github.com/castbridge/castd/internal/directory"
)

// Client is the protocol-agnostic control surface the session coordinator
// drives, per spec.md §4.4's uniform command vocabulary.
type Client interface {
	Connect(ctx context.Context) error
	LoadMedia(ctx context.Context, mediaURL string, startPosition float64) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	SetVolume(ctx context.Context, level int) error
	Disconnect(ctx context.Context) error
}

// StatusReporter is implemented by protocol clients that maintain a
// background status feed — the AirPlay and DLNA pollers, and the
// Chromecast client's unsolicited MEDIA_STATUS dispatch. The session
// coordinator wires the callback to its own cached position/duration/
// paused state (spec.md §4.4, §4.3.3).
type StatusReporter interface {
	SetOnStatus(f func(position, duration float64, paused bool))
}

// NewClient builds the protocol client appropriate for device.Type.
func NewClient(logger log.Logger, device directory.Device) (Client, error) {
	switch device.Type {
	case directory.Chromecast:
		return chromecast.New(logger, device), nil
	case directory.DLNA:
		return dlna.New(logger, device), nil
	case directory.AirPlay:
		return airplay.New(logger, device), nil
	default:
		return nil, castderr.New(castderr.UnsupportedProtocol, "unsupported device type: "+string(device.Type))
	}
}
