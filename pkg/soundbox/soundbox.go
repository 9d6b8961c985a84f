// Package soundbox implements an audio playback engine that manages
// concurrent playback sessions against one or more hardware output devices.
package soundbox

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/soundbox-audio/soundbox/pkg/soundbox/util"
)

// Soundbox manages the main application components.
type Soundbox struct {
	logger        *zap.SugaredLogger
	notifier      Notifier
	config        *CanonicalConfig
	engine        *Engine
	stopChannel   chan bool
	startupSounds []string
	version       string
	verbose       bool
}

// NewSoundbox creates a new Soundbox instance. The sink receives playback
// lifecycle events and may be nil.
func NewSoundbox(logger *zap.SugaredLogger, verbose bool, sink EventSink) (*Soundbox, error) {
	logger = logger.Named("soundbox")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create notifier", "error", err)
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create configuration", "error", err)
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	backend, err := NewMalgoBackend(logger)
	if err != nil {
		logger.Errorw("Failed to initialize audio backend", "error", err)
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}

	engine, err := NewEngine(logger, config, backend, sink)
	if err != nil {
		logger.Errorw("Failed to create audio engine", "error", err)
		return nil, fmt.Errorf("failed to create audio engine: %w", err)
	}

	sb := &Soundbox{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		engine:      engine,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Soundbox instance created successfully")
	return sb, nil
}

// Initialize prepares components and starts running the application. It
// blocks until the application is stopped by an interrupt signal.
func (sb *Soundbox) Initialize() error {
	sb.logger.Debug("Initializing soundbox")

	if err := sb.config.Load(); err != nil {
		sb.logger.Errorw("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := sb.engine.Initialize(); err != nil {
		sb.logger.Errorw("Failed to initialize audio engine", "error", err)
		return fmt.Errorf("failed to initialize audio engine: %w", err)
	}

	sb.setupInterruptHandler()
	sb.run()

	return nil
}

// Engine exposes the playback engine for direct control.
func (sb *Soundbox) Engine() *Engine {
	return sb.engine
}

// QueueStartupSounds registers sound files to play once initialization
// completes.
func (sb *Soundbox) QueueStartupSounds(paths []string) {
	sb.startupSounds = append(sb.startupSounds, paths...)
}

// SetVersion sets the application version for logging purposes.
func (sb *Soundbox) SetVersion(version string) {
	sb.version = version
}

// Verbose indicates whether the application runs in verbose mode.
func (sb *Soundbox) Verbose() bool {
	return sb.verbose
}

func (sb *Soundbox) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		sb.logger.Debugw("Interrupt received", "signal", signal)
		sb.signalStop()
	}()
}

func (sb *Soundbox) run() {
	sb.logger.Info("Run loop starting")
	defer sb.recoverFromPanic()

	go sb.config.WatchConfigFileChanges()

	for _, path := range sb.startupSounds {
		if _, err := sb.engine.Play(NewSound(path), nil); err != nil {
			sb.logger.Warnw("Failed to play startup sound", "path", path, "error", err)
		}
	}

	<-sb.stopChannel
	sb.logger.Debug("Stop signal received")

	if err := sb.stop(); err != nil {
		sb.logger.Warnw("Error during shutdown", "error", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func (sb *Soundbox) signalStop() {
	sb.logger.Debug("Sending stop signal")
	sb.stopChannel <- true
}

func (sb *Soundbox) stop() error {
	sb.logger.Info("Shutting down soundbox")

	sb.config.StopWatchingConfigFile()
	sb.engine.StopAll()

	if err := sb.engine.Release(); err != nil {
		sb.logger.Errorw("Failed to release audio engine", "error", err)
		return fmt.Errorf("failed to release audio engine: %w", err)
	}

	sb.logger.Sync()
	return nil
}
