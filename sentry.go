package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"

	"gred/internal/dblib"
	"gred/internal/grid"
)

// InitSentry initializes the Sentry client with the given DSN
func InitSentry(dsn string) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      getEnvironment(),
		AttachStacktrace: true,
		BeforeSend:       scrubStatements,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	if user, err := os.UserCacheDir(); err == nil {
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetUser(sentry.User{
				ID: user,
			})
		})
	}

	return nil
}

// getEnvironment determines the environment (dev or production)
func getEnvironment() string {
	if _, err := os.Stat(".git"); err == nil {
		return "development"
	}
	if os.Getenv("GRED_ENV") == "dev" {
		return "development"
	}
	return "production"
}

// scrubStatements drops breadcrumb payloads, which can hold row values.
func scrubStatements(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	for _, bc := range event.Breadcrumbs {
		delete(bc.Data, "sql")
	}
	return event
}

// FlushAndShutdown flushes pending Sentry events and closes the client
func FlushAndShutdown() {
	sentry.Flush(5 * time.Second)
}

// reportable filters out errors that are the user's or the database's
// business rather than a defect: driver errors, unresolved tables and
// refused ambiguous writes.
func reportable(err error) bool {
	var execErr *dblib.ExecutionError
	switch {
	case err == nil,
		errors.As(err, &execErr),
		errors.Is(err, dblib.ErrUnresolvedTable),
		errors.Is(err, dblib.ErrAmbiguousRow),
		errors.Is(err, dblib.ErrMultipleStatements),
		errors.Is(err, grid.ErrBusy),
		errors.Is(err, grid.ErrNoEdit),
		errors.Is(err, grid.ErrDuplicateColumn),
		grid.IsStopped(err):
		return false
	}
	return true
}

// CaptureError sends an error to Sentry along with any pending breadcrumbs
func CaptureError(err error) {
	if !telemetryEnabled || !reportable(err) {
		return
	}

	if breadcrumbs != nil {
		breadcrumbs.Flush()
	}

	sentry.CaptureException(err)
}

// telemetryEnabled is set once at startup from the settings.
var telemetryEnabled bool
