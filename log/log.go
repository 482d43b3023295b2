// Package log provides file-backed loggers shared by every package.
// Enable verbose logging by setting AR_DEBUG=1.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var (
	InfoLog    *log.Logger
	WarningLog *log.Logger
	ErrorLog   *log.Logger
	DebugLog   *log.Logger

	// DebugEnabled reports whether AR_DEBUG=1 was set at Initialize time.
	DebugEnabled bool

	logFile     *os.File
	logFileName = filepath.Join(os.TempDir(), "agentrelay.log")
)

// Initialize opens the log file and sets up the package loggers. A headless
// server logs to a separate file so a foreground process and a server don't
// clobber each other's logs.
func Initialize(headless bool) {
	name := logFileName
	if headless {
		name = filepath.Join(os.TempDir(), "agentrelay-server.log")
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		// Fall back to stderr so logging never becomes a fatal concern.
		f = os.Stderr
	} else {
		logFile = f
	}

	flags := log.Ldate | log.Ltime | log.Lshortfile
	InfoLog = log.New(f, "INFO: ", flags)
	WarningLog = log.New(f, "WARNING: ", flags)
	ErrorLog = log.New(f, "ERROR: ", flags)

	if os.Getenv("AR_DEBUG") == "1" {
		DebugEnabled = true
		DebugLog = log.New(f, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	} else {
		DebugLog = log.New(io.Discard, "", 0)
	}
}

// Close closes the log file if one was opened.
func Close() {
	if logFile != nil {
		_ = logFile.Close()
		if DebugEnabled {
			fmt.Println("wrote logs to " + logFile.Name())
		}
		logFile = nil
	}
}

// Debug logs a debug message if debug mode is enabled.
func Debug(format string, v ...interface{}) {
	if DebugEnabled && DebugLog != nil {
		DebugLog.Printf(format, v...)
	}
}

// The loggers exist even if Initialize was never called, so library use and
// tests don't have to care about ordering.
func init() {
	discard := log.New(io.Discard, "", 0)
	InfoLog, WarningLog, ErrorLog, DebugLog = discard, discard, discard, discard
}
