// Package recovery centralizes panic handling for the process's goroutines
// so a single synth node or MIDI callback bug doesn't take down the audio
// thread silently.
package recovery

import (
	"fmt"
	"os"
	"runtime/debug"
)

// HandlePanic should be deferred at the top of main() or a goroutine. It
// logs the panic and stack trace to stderr and exits with code 1.
func HandlePanic() {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		os.Exit(1)
	}
}

// HandlePanicFunc logs the panic and runs cleanup before exiting. Used by
// goroutines that own resources (the butler's file handles, the bridge's
// ticker) that should be released before the process dies.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %v\n\nStack trace:\n%s\n", r, debug.Stack())
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}
