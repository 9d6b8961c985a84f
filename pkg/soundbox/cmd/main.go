package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/soundbox-audio/soundbox/pkg/soundbox"
)

var (
	gitCommit  string
	versionTag string
	buildType  string
	verbose    bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "Show verbose logs (useful for debugging playback)")
	flag.BoolVar(&verbose, "v", false, "Shorthand for --verbose")
	flag.Parse()
}

func main() {
	// First we need a logger
	logger, err := soundbox.NewLogger(buildType)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Named logger for the 'main' function
	named := logger.Named("main")
	named.Debug("Created logger")

	// Log version info
	if versionTag != "" || gitCommit != "" {
		named.Infow("Version info", "gitCommit", gitCommit, "versionTag", versionTag, "buildType", buildType)
	}

	if verbose {
		named.Debug("Verbose mode enabled, all log messages will be shown")
	}

	// Create the soundbox instance with a sink that logs playback events
	sb, err := soundbox.NewSoundbox(logger, verbose, &loggingSink{logger: logger.Named("events")})
	if err != nil {
		named.Fatalw("Failed to create soundbox instance", "error", err)
	}

	if versionTag != "" || gitCommit != "" {
		versionIdentifier := versionTag
		if versionIdentifier == "" {
			versionIdentifier = gitCommit
		}
		sb.SetVersion(fmt.Sprintf("Version %s-%s", buildType, versionIdentifier))
	}

	// Any file paths given on the command line are played on startup
	sb.QueueStartupSounds(flag.Args())

	// Initialize soundbox; blocks until interrupted
	if err := sb.Initialize(); err != nil {
		named.Fatalw("Failed to initialize soundbox", "error", err)
	}
}

// loggingSink logs playback lifecycle events. It stands in for a UI layer.
type loggingSink struct {
	logger *zap.SugaredLogger
}

func (ls *loggingSink) OnSoundPlayed(sound soundbox.PlayingSound) {
	ls.logger.Infow("Sound started", "sound", sound)
}

func (ls *loggingSink) OnSoundProgressed(sound soundbox.PlayingSound) {
	ls.logger.Debugw("Sound progressed", "sound", sound)
}

func (ls *loggingSink) OnSoundFinished(sound soundbox.PlayingSound) {
	ls.logger.Infow("Sound finished", "sound", sound)
}
