package soundbox

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/soundbox-audio/soundbox/pkg/soundbox/util"
)

const (
	crashlogFilename        = "soundbox-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"
	crashMessageTemplate    = `-----------------------------------------------------------------
                      soundbox crashlog
-----------------------------------------------------------------
Unfortunately, soundbox has crashed. This really shouldn't happen!
If you've just encountered this, please open an issue and attach this error log.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

// recoverFromPanic handles application panics, logs the error, and attempts to shut down gracefully.
func (sb *Soundbox) recoverFromPanic() {
	if r := recover(); r != nil {
		sb.handlePanic(r)
	}
}

// handlePanic logs the panic details, writes a crash log file, and notifies the user.
func (sb *Soundbox) handlePanic(recoverValue interface{}) {
	now := time.Now()
	crashlogPath := filepath.Join(logDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	// Create the crash log content.
	crashLogContent := sb.createCrashLogContent(now, recoverValue)

	// Ensure the log directory exists.
	if err := util.EnsureDirExists(logDirectory); err != nil {
		panic(fmt.Errorf("failed to create log directory: %w", err))
	}

	// Write the crash log file.
	if err := os.WriteFile(crashlogPath, crashLogContent, 0644); err != nil {
		panic(fmt.Errorf("failed to write crash log: %w", err))
	}

	// Log and notify the crash.
	sb.logger.Errorw("Application panic encountered",
		"crashlogPath", crashlogPath,
		"error", recoverValue)

	sb.notifier.Notify("Unexpected crash occurred",
		fmt.Sprintf("Details logged to: %s", crashlogPath))

	// Attempt to shut down gracefully.
	sb.signalStop()

	// Exit with an error code.
	sb.logger.Errorw("Exiting due to panic", "exitCode", 1)
	os.Exit(1)
}

// createCrashLogContent generates the formatted crash log content.
func (sb *Soundbox) createCrashLogContent(timestamp time.Time, recoverValue interface{}) []byte {
	return []byte(fmt.Sprintf(crashMessageTemplate,
		timestamp.Format(crashlogTimestampFormat),
		recoverValue,
		debug.Stack(),
	))
}
