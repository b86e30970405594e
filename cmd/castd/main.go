// Command castd runs the cast helper: device discovery, the session
// coordinator, the control-plane API, and the media HTTP server, all in
// one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anacrolix/log"

	"github.com/castbridge/castd/internal/api"
	"github.com/castbridge/castd/internal/directory"
	"github.com/castbridge/castd/internal/discovery"
	"github.com/castbridge/castd/internal/mediaserver"
	"github.com/castbridge/castd/internal/session"
)

var version = "dev"

func main() {
	var (
		apiPort       = flag.Int("api-port", 9876, "control plane listen port")
		mediaPort     = flag.Int("media-port", 9877, "media server listen port")
		mediaRoot     = flag.String("media-root", ".", "allow-listed root directory for /media")
		subtitlesRoot = flag.String("subtitles-root", ".", "allow-listed root directory for /subtitles")
		debug         = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := log.Default
	if *debug {
		logger = logger.WithFilterLevel(log.Debug)
		logger.Levelf(log.Debug, "debug logging requested")
	}
	api.Version = version

	if err := run(logger, *apiPort, *mediaPort, *mediaRoot, *subtitlesRoot); err != nil {
		logger.Levelf(log.Error, "castd: %s", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, apiPort, mediaPort int, mediaRoot, subtitlesRoot string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := directory.New(logger)
	coordinator := session.New(logger, dir)
	disco := discovery.New(logger, dir)

	go func() {
		if err := disco.Run(ctx); err != nil {
			logger.Levelf(log.Info, "discovery: %s", err)
		}
	}()

	mediaSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", mediaPort),
		Handler: mediaserver.New(logger, mediaRoot, subtitlesRoot).Handler(),
	}
	go func() {
		if err := mediaSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Levelf(log.Error, "media server: %s", err)
		}
	}()

	shutdownRequested := make(chan struct{})
	apiSrv := &http.Server{
		// Loopback-only: the control plane has no auth beyond this binding
		// (spec.md §1 Non-goals), so it must never listen on all interfaces.
		Addr: fmt.Sprintf("127.0.0.1:%d", apiPort),
	}
	apiSrv.Handler = api.New(logger, dir, coordinator, disco, func() {
		close(shutdownRequested)
	}).Handler()
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Levelf(log.Error, "api server: %s", err)
		}
	}()

	logger.Levelf(log.Info, "castd listening: api=:%d media=:%d", apiPort, mediaPort)

	select {
	case <-ctx.Done():
	case <-shutdownRequested:
	}

	coordinator.Stop(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiSrv.Shutdown(shutdownCtx)
	mediaSrv.Shutdown(shutdownCtx)
	return nil
}
