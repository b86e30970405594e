// Package discovery composes the mDNS and SSDP discovery sources into a
// single Manager that keeps a Directory populated, and exposes the
// Refresh operation the control plane's POST /devices/refresh drives.
package discovery

import (
	"context"
	"sync"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/directory"
	"github.com/castbridge/castd/internal/discovery/mdnsbrowse"
	"github.com/castbridge/castd/internal/discovery/ssdp"
)

// Manager owns the mDNS browser (continuous) and the SSDP client
// (one pass per Run/Refresh), both feeding Upsert calls into dir.
type Manager struct {
	dir    *directory.Directory
	logger log.Logger

	mdns *mdnsbrowse.Browser
	ssdp *ssdp.Client

	mu       sync.Mutex
	ssdpStop chan struct{}
}

func New(logger log.Logger, dir *directory.Directory) *Manager {
	logger = logger.WithNames("discovery")
	m := &Manager{dir: dir, logger: logger}
	m.mdns = mdnsbrowse.New(logger, dir.Upsert)
	m.ssdp = ssdp.New(logger, dir.Upsert)
	return m
}

// Run starts the mDNS browser (which runs for ctx's lifetime) and an
// initial SSDP discovery pass. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.runSSDPPass()
	return m.mdns.Run(ctx)
}

// Refresh implements the api.Discoverer interface: it clears the
// directory's stale entries and kicks off a fresh SSDP pass. Per I7, any
// live session is unaffected since the coordinator holds its own copy of
// the Device it started with.
func (m *Manager) Refresh() {
	m.dir.Clear()
	m.ssdp.Reset()
	m.runSSDPPass()
}

func (m *Manager) runSSDPPass() {
	m.mu.Lock()
	if m.ssdpStop != nil {
		close(m.ssdpStop)
	}
	stop := make(chan struct{})
	m.ssdpStop = stop
	m.mu.Unlock()

	go func() {
		if err := m.ssdp.Run(stop); err != nil {
			m.logger.Levelf(log.Info, "ssdp discovery pass: %s", err)
		}
	}()
}
