package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropCanceled(t *testing.T) {
	ev := sentry.NewEvent()
	assert.Nil(t, dropCanceled(ev, &sentry.EventHint{OriginalException: fmt.Errorf("mark: %w", context.Canceled)}))
	assert.Same(t, ev, dropCanceled(ev, &sentry.EventHint{OriginalException: errors.New("backend 502")}))
	assert.Same(t, ev, dropCanceled(ev, nil))
}

func TestInitSentryDisabled(t *testing.T) {
	flush, err := InitSentry("", "test", "dashboard-api", "dev")
	require.NoError(t, err)
	flush()
	CaptureErr(errors.New("not sent"), "path", "/v1/roster/save", "dangling")
	CaptureErr(nil)
}
