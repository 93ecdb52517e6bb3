//go:build debug

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// newLogger writes JSON lines to $TMPDIR/gred.log when built with -tags debug
func newLogger() (zerolog.Logger, func()) {
	path := filepath.Join(os.TempDir(), "gred.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open debug log file: %v\n", err)
		return zerolog.Nop(), func() {}
	}
	log := zerolog.New(f).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return log, func() { f.Close() }
}
