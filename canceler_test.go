package notifyloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanceler_Cancel_idempotent(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var canceler Canceler

	// cancel-before-any-wrap is valid
	canceler.Cancel(`first`)
	canceler.Cancel(`second`)
	canceler.Cancel(`third`)

	require.True(t, canceler.Canceled())

	// the first reason wins
	e, ok := AsCanceled(canceler.Err())
	require.True(t, ok)
	assert.Equal(t, `first`, e.Reason)

	select {
	case <-canceler.Done():
	default:
		t.Error(`expected done channel to be closed`)
	}
}

func TestCanceler_Wrap_broadcast(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var canceler Canceler

	const wraps = 5
	ctxs := make([]context.Context, wraps)
	releases := make([]context.CancelFunc, wraps)
	for i := range ctxs {
		ctxs[i], releases[i] = canceler.Wrap(context.Background())
		defer releases[i]()
	}

	for _, ctx := range ctxs {
		require.NoError(t, ctx.Err())
	}

	canceler.Cancel(`stop everything`)

	// every currently wrapped operation observes cancellation, not just one
	for _, ctx := range ctxs {
		require.Error(t, ctx.Err())
		e, ok := CanceledCause(ctx)
		require.True(t, ok)
		assert.Equal(t, `stop everything`, e.Reason)
	}
}

func TestCanceler_Wrap_alreadyCanceled(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var canceler Canceler
	canceler.Cancel(`too late`)

	ctx, release := canceler.Wrap(context.Background())
	defer release()

	require.Error(t, ctx.Err())
	e, ok := CanceledCause(ctx)
	require.True(t, ok)
	assert.Equal(t, `too late`, e.Reason)
}

func TestCanceler_Wrap_releaseDetaches(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var canceler Canceler

	ctx1, release1 := canceler.Wrap(context.Background())
	ctx2, release2 := canceler.Wrap(context.Background())
	defer release2()

	release1()
	require.Error(t, ctx1.Err()) // released implies cancelled (normally)
	require.NoError(t, ctx2.Err())

	canceler.Cancel(`later`)

	// the released context was detached before the cancel, so its cause is
	// the plain context.Canceled, not the canceler's reason
	if _, ok := CanceledCause(ctx1); ok {
		t.Error(`expected released context to not observe the canceler reason`)
	}
	if e, ok := CanceledCause(ctx2); assert.True(t, ok) {
		assert.Equal(t, `later`, e.Reason)
	}
}

func TestCanceler_Wrap_parentCancellation(t *testing.T) {
	defer checkNumGoroutines(time.Second * 3)(t)

	var canceler Canceler

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, release := canceler.Wrap(parent)
	defer release()

	cancelParent()
	require.Error(t, ctx.Err())
	require.False(t, canceler.Canceled())
}

func TestAsCanceled(t *testing.T) {
	if _, ok := AsCanceled(nil); ok {
		t.Error(`nil error is not a cancellation`)
	}
	if _, ok := AsCanceled(context.Canceled); ok {
		t.Error(`context.Canceled is not a CanceledError`)
	}
	e, ok := AsCanceled(&CanceledError{Reason: `x`})
	require.True(t, ok)
	assert.Equal(t, `x`, e.Reason)
	assert.Contains(t, e.Error(), `x`)
}
