package server

import (
	"io"
	"log"
	"os"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags|log.Lmicroseconds)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
)

// EnableDebugLogging turns on verbose per-request logging
func EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// SetLogOutput redirects the error and debug loggers, used by tests and embedding programs
func SetLogOutput(errOut, debugOut io.Writer) {
	errorLog.SetOutput(errOut)
	debugLog.SetOutput(debugOut)
}
