// Package goroutine holds helpers for background goroutines.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufferSize bounds the stack captured on panic.
const stackBufferSize = 4096

// Recover logs a recovered panic from a named background goroutine.
// Must be called via defer. A nil logger falls back to stderr so the
// panic is never lost.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, buf[:n])
		return
	}

	logger.Errorw("Goroutine panic recovered",
		"goroutine", name,
		"panic", r,
		"stack", string(buf[:n]))
}
