// main.go: Reference host driving the built-in tweaks
//
// tweakhost plays the part of the game: it loads settings, registers the
// built-in tweak consumers, and runs a frame loop that syncs settings into
// them. Edit a record file while it runs (with --watch) and the next frame
// picks up the change.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/tweaksync"
	"github.com/agilira/tweaksync/tweaks"
)

const version = "1.0.0"

func main() {
	config, err := tweaksync.ParseConfigFlags("tweakhost", os.Args[1:])
	if err != nil {
		if tweaksync.HasCode(err, tweaksync.ErrCodeHelpRequested) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, os.Stdout); err != nil {
		log.Printf("tweakhost: %v", err)
		os.Exit(1)
	}
}

// host holds the consumers a game would own
type host struct {
	sync       *tweaksync.Synchronizer
	keyLimiter *tweaks.KeyLimiter
	opacity    *tweaks.PlanetOpacity
	out        io.Writer
	lastStatus string
}

// run drives the frame loop until ctx is done, then saves and shuts down
func run(ctx context.Context, config *tweaksync.Config, out io.Writer) error {
	if config.LegacyFile != "" {
		legacy, err := tweaksync.OpenPropertiesLegacyStore(config.LegacyFile)
		if err != nil {
			return err
		}
		config.Legacy = tweaks.NewLegacyImporter(legacy)
	}

	catalog, err := tweaks.NewCatalog()
	if err != nil {
		return err
	}
	store, err := tweaksync.OpenStore(*config)
	if err != nil {
		return errors.Wrap(err, tweaksync.ErrCodeIOError, "failed to open settings store")
	}
	sync, err := tweaksync.New(catalog, store, *config)
	if err != nil {
		if closer, ok := store.(io.Closer); ok {
			_ = closer.Close()
		}
		return err
	}
	defer sync.Close()

	report := sync.Load()
	fmt.Fprintf(out, "tweakhost %s: %d record(s) loaded, %d new, %d defaulted\n",
		version, len(report.Loaded), len(report.Missing), len(report.Defaulted))
	if report.Legacy != nil && len(report.Legacy.Migrated)+len(report.Legacy.Failed) > 0 {
		fmt.Fprintf(out, "legacy import: %d migrated, %d failed\n",
			len(report.Legacy.Migrated), len(report.Legacy.Failed))
	}

	h := &host{
		sync:       sync,
		keyLimiter: &tweaks.KeyLimiter{},
		opacity:    &tweaks.PlanetOpacity{},
		out:        out,
	}
	if err := h.register(); err != nil {
		return err
	}
	defer h.unregister()

	if config.WatchStore {
		if err := sync.StartWatching(); err != nil {
			// Watching is a convenience; the host runs without it
			log.Printf("tweakhost: store watching disabled: %v", err)
		}
	}

	ticker := time.NewTicker(config.SyncInterval)
	defer ticker.Stop()

	h.frame()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "shutting down")
			return sync.Save()
		case <-ticker.C:
			h.frame()
		}
	}
}

func (h *host) register() error {
	if err := h.sync.RegisterConsumer(h.keyLimiter); err != nil {
		return err
	}
	if err := h.sync.RegisterConsumer(h.opacity); err != nil {
		return err
	}
	return h.sync.RegisterType(tweaks.PlanetColorPatchesType)
}

func (h *host) unregister() {
	_ = h.sync.UnregisterConsumer(h.keyLimiter)
	_ = h.sync.UnregisterConsumer(h.opacity)
	_ = h.sync.UnregisterType(tweaks.PlanetColorPatchesType)
}

// frame is one game frame: sync settings, then read them the way the game
// would. Status is printed only when it changes.
func (h *host) frame() {
	h.sync.Sync()

	hits, handled := h.keyLimiter.CountValidKeys(func(key int) bool {
		return key == tweaks.KeyMouse0
	}, false)
	color, ok := tweaks.PlanetColor(true)
	if !ok {
		color = tweaks.ColorRed
	}
	color = h.opacity.Apply(color, true)

	status := fmt.Sprintf("key limiter: handled=%t hits=%d | red planet: %.2f %.2f %.2f alpha %.2f",
		handled, hits, color.R, color.G, color.B, color.A)
	if status != h.lastStatus {
		fmt.Fprintln(h.out, status)
		h.lastStatus = status
	}
}
