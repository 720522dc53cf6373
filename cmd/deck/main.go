package main

import (
	"context"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskdeck/internal/config"
	"taskdeck/internal/deck"
	"taskdeck/internal/task"
)

const (
	configEnv    = "TASKDECK_CONFIG"
	logFile      = "deck.log"
	frameRate    = 100 * time.Millisecond
	drainTimeout = 2 * time.Second
)

func main() {
	// the TUI owns the terminal, so logs go to a file
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatal().Err(err).Str("file", logFile).Msg("open deck log")
	}
	defer f.Close()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})

	path := os.Getenv(configEnv)
	if path == "" {
		path = "config.yml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	registry := task.NewRegistry(
		task.WithRemovalPolicy(cfg.RemovalPolicy),
		task.WithObserveInterval(cfg.ObserveInterval),
	)
	ctx, cancel := context.WithCancel(context.Background())

	model := deck.New(registry, deck.Options{
		Seconds:     int(cfg.DefaultDuration / time.Second),
		Frame:       frameRate,
		TimerPolicy: cfg.TimerPolicy,
		Context:     ctx,
	})
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		log.Error().Err(err).Msg("deck failed")
	}

	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if !registry.WaitAll(drainCtx) {
		log.Warn().Msg("task timers did not finish before exit")
	}
}
