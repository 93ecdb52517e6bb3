package main

import (
	"errors"

	"gred/internal/dblib"
	"gred/internal/grid"
)

// Status implements grid.Notifier.
func (m *Model) Status(msg string) {
	m.statusMsg = msg
	m.errorMsg = ""
}

// Error implements grid.Notifier. Errors worth a report are sent to Sentry
// when telemetry is on.
func (m *Model) Error(err error) {
	if err == nil {
		return
	}
	m.statusMsg = ""
	m.errorMsg = describeError(err)
	m.log.Debug().Err(err).Msg("grid error")
	CaptureError(err)
}

// describeError turns grid errors into status bar text.
func describeError(err error) string {
	var delErr *grid.DeleteError
	switch {
	case errors.Is(err, dblib.ErrUnresolvedTable):
		return "cannot edit: the query's table could not be determined"
	case errors.Is(err, grid.ErrBusy):
		return "busy: wait for pending changes to finish"
	case errors.Is(err, grid.ErrNoEdit):
		return "no pending change in this cell"
	case errors.As(err, &delErr):
		return delErr.Error()
	}
	return err.Error()
}

var _ grid.Notifier = (*Model)(nil)
