package cancel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/db"
	"walktour/pkg/store"
)

func TestErrCancelledIsContextCanceled(t *testing.T) {
	assert.True(t, errors.Is(ErrCancelled, context.Canceled))
}

func TestSignal_Local(t *testing.T) {
	ctx := context.Background()
	s := New(nil, 10*time.Millisecond)

	assert.False(t, s.IsCancelled(ctx, "s1"))
	assert.NoError(t, s.Check(ctx, "s1"))

	require.NoError(t, s.Cancel(ctx, "s1"))
	assert.True(t, s.IsCancelled(ctx, "s1"))
	assert.False(t, s.IsCancelled(ctx, "s2"))
	assert.ErrorIs(t, s.Check(ctx, "s1"), ErrCancelled)

	require.NoError(t, s.Clear(ctx, "s1"))
	assert.False(t, s.IsCancelled(ctx, "s1"))
}

func TestSignal_Persistent(t *testing.T) {
	ctx := context.Background()
	d, err := db.Init(filepath.Join(t.TempDir(), "cancel.db"))
	require.NoError(t, err)
	defer d.Close()
	st := store.NewSQLiteStore(d)

	// Another process raises the flag through the shared store
	writer := New(st, time.Second)
	reader := New(st, 10*time.Millisecond)
	require.NoError(t, writer.Cancel(ctx, "s1"))

	assert.True(t, reader.IsCancelled(ctx, "s1"))
	_, found := st.GetState(ctx, Key("s1"))
	assert.True(t, found)

	require.NoError(t, reader.Clear(ctx, "s1"))
	assert.False(t, reader.IsCancelled(ctx, "s1"))
	_, found = st.GetState(ctx, Key("s1"))
	assert.False(t, found)
}

func TestWatch(t *testing.T) {
	t.Run("LocalCancelIsImmediate", func(t *testing.T) {
		s := New(nil, time.Hour)
		ctx, stop := s.Watch(context.Background(), "s1")
		defer stop()

		require.NoError(t, s.Cancel(context.Background(), "s1"))
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("watch context not cancelled")
		}
		assert.ErrorIs(t, context.Cause(ctx), ErrCancelled)
		assert.ErrorIs(t, s.Check(ctx, "s1"), ErrCancelled)
	})

	t.Run("PolledFromStore", func(t *testing.T) {
		d, err := db.Init(filepath.Join(t.TempDir(), "watch.db"))
		require.NoError(t, err)
		defer d.Close()
		st := store.NewSQLiteStore(d)

		s := New(st, 10*time.Millisecond)
		ctx, stop := s.Watch(context.Background(), "s1")
		defer stop()

		require.NoError(t, st.SetState(context.Background(), Key("s1"), "now"))
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("watch context not cancelled by polled flag")
		}
		assert.ErrorIs(t, context.Cause(ctx), ErrCancelled)
	})

	t.Run("StopIsNotCancellation", func(t *testing.T) {
		s := New(nil, 10*time.Millisecond)
		ctx, stop := s.Watch(context.Background(), "s1")
		stop()
		stop()
		<-ctx.Done()
		assert.False(t, errors.Is(context.Cause(ctx), ErrCancelled))
		assert.NoError(t, s.Check(context.Background(), "s1"))
	})

	t.Run("AlreadyCancelled", func(t *testing.T) {
		s := New(nil, time.Hour)
		require.NoError(t, s.Cancel(context.Background(), "s1"))
		ctx, stop := s.Watch(context.Background(), "s1")
		defer stop()
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("expected immediate cancellation")
		}
	})
}

func TestWatch_StopReleasesWaiter(t *testing.T) {
	s := New(nil, time.Hour)
	waiting := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters)
	}

	_, stopA := s.Watch(context.Background(), "s1")
	ctxB, stopB := s.Watch(context.Background(), "s1")
	assert.Equal(t, 1, waiting())

	stopA()
	stopA()
	assert.Equal(t, 1, waiting(), "second watcher still holds the session")

	require.NoError(t, s.Cancel(context.Background(), "s1"))
	select {
	case <-ctxB.Done():
	case <-time.After(time.Second):
		t.Fatal("watch not cancelled")
	}
	stopB()
	assert.Zero(t, waiting())

	// A session that finishes without cancellation leaves nothing behind
	_, stopC := s.Watch(context.Background(), "s2")
	stopC()
	assert.Zero(t, waiting())
}
