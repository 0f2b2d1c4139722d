package observability

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures error reporting for service. An empty DSN disables
// it and the returned flush is a no-op.
func InitSentry(dsn, env, service, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		ServerName:       service,
		AttachStacktrace: true,
		BeforeSend:       dropCanceled,
	}); err != nil {
		return func() {}, err
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("service", service)
	})
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// dropCanceled discards errors caused by a caller going away.
func dropCanceled(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint != nil && hint.OriginalException != nil && errors.Is(hint.OriginalException, context.Canceled) {
		return nil
	}
	return event
}

// CaptureErr reports err when Sentry is configured. tags are key/value
// pairs; a trailing key without a value is ignored.
func CaptureErr(err error, tags ...string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for i := 0; i+1 < len(tags); i += 2 {
			scope.SetTag(tags[i], tags[i+1])
		}
		sentry.CaptureException(err)
	})
}
