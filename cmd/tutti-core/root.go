package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tutti-audio/tutti-core/internal/config"
	"github.com/tutti-audio/tutti-core/pkg/engine"
	"github.com/tutti-audio/tutti-core/pkg/logger"
	"github.com/tutti-audio/tutti-core/pkg/node"
)

var rootCmd = &cobra.Command{
	Use:   "tutti-core",
	Short: "Real-time audio engine: transport, MIDI routing, and disk streaming",
	RunE:  runEngine,
}

func runEngine(_ *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitLogger(settings.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// No concrete MIDI input backend ships in core (SPEC_FULL.md's
	// non-goals); the render graph starts silent until units are
	// registered via the Mixer.
	session, err := engine.NewSession(settings, nil, node.NewMixer())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	log.Info("engine starting",
		"sample_rate", settings.SampleRate,
		"buffer_frames", settings.BufferFrames,
		"initial_bpm", settings.InitialBPM,
	)

	if err := session.Run(ctx); err != nil {
		return fmt.Errorf("session run: %w", err)
	}

	log.Info("engine stopped")
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	if err := config.Init(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}
