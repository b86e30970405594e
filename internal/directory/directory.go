// Package directory holds the in-memory registry of discovered cast
// endpoints. It is the single owner of device state; every mutation goes
// through its mutex the way the teacher's Server serializes access to its
// own process-lifetime state.
package directory

import (
	"sort"
	"strings"
	"sync"

	"github.com/anacrolix/log"
)

// DeviceType is the protocol family a Device speaks.
type DeviceType string

const (
	Chromecast DeviceType = "chromecast"
	DLNA       DeviceType = "dlna"
	AirPlay    DeviceType = "airplay"
)

// Capabilities describes what a device claims to support. Discovery
// sources fill this in with protocol-default values; nothing in the core
// probes a device to refine it.
type Capabilities struct {
	MaxWidth        int      `json:"maxWidth"`
	MaxHeight       int      `json:"maxHeight"`
	VideoCodecs     []string `json:"videoCodecs"`
	AudioCodecs     []string `json:"audioCodecs"`
	HDR             bool     `json:"hdr"`
	DolbyVision     bool     `json:"dv"`
	SubtitleFormats []string `json:"subtitleFormats"`
}

// Device is a single discovered playback endpoint.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         DeviceType   `json:"type"`
	Address      string       `json:"address"`
	Port         int          `json:"port"`
	Capabilities Capabilities `json:"capabilities"`

	// ControlURLs carries protocol-specific endpoints discovered along with
	// the device. For DLNA this holds the AVTransport/RenderingControl
	// control URLs extracted from the device description; chromecast and
	// airplay devices compute their endpoints from Address/Port alone and
	// leave this empty.
	ControlURLs map[string]string `json:"controlUrls,omitempty"`
}

// Directory is the process-lifetime registry of known devices. All
// mutation and iteration is serialized through mu; callers only ever see
// snapshots, never live references into the map (I1, O1 of spec.md §3/§5).
type Directory struct {
	mu      sync.Mutex
	devices map[string]Device
	logger  log.Logger
}

func New(logger log.Logger) *Directory {
	return &Directory{
		devices: make(map[string]Device),
		logger:  logger.WithNames("directory"),
	}
}

// Upsert inserts or replaces a Device by id. Idempotent.
func (d *Directory) Upsert(dev Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[dev.ID] = dev
	d.logger.Levelf(log.Debug, "upsert %s (%s)", dev.ID, dev.Type)
}

// Get returns the Device for id, if known.
func (d *Directory) Get(id string) (Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	return dev, ok
}

// List returns a snapshot of all known devices sorted by friendly name,
// case-insensitive, with id as a tiebreak.
func (d *Directory) List() []Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]Device, 0, len(d.devices))
	for _, dev := range d.devices {
		ret = append(ret, dev)
	}
	sort.Slice(ret, func(i, j int) bool {
		ni, nj := strings.ToLower(ret[i].Name), strings.ToLower(ret[j].Name)
		if ni != nj {
			return ni < nj
		}
		return ret[i].ID < ret[j].ID
	})
	return ret
}

// Snapshot is an alias for List, used by the HTTP API layer.
func (d *Directory) Snapshot() []Device { return d.List() }

// Count reports the number of known devices. Test-only convenience.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

// Clear removes all entries. Used by refresh only; per I7 a live session
// outlives removal of its device entry, which holds automatically since
// the coordinator keeps its own copy of the Device it started with.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = make(map[string]Device)
	d.logger.Levelf(log.Debug, "cleared")
}
