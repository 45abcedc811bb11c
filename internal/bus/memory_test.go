// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPutUnderRoot(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "/mw/7")
	require.NoError(t, err)

	require.NoError(t, b.Put(context.Background(), "/mw/7/ins_dom_id", "7"))
	require.NoError(t, b.Put(context.Background(), "/mw/9/ins_dom_id", "9"))

	select {
	case ev := <-ch:
		assert.Equal(t, "/mw/7/ins_dom_id", ev.Path)
		assert.Equal(t, "7", ev.Value)
	case <-time.After(time.Second):
		t.Fatal("expected event under subscribed root")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event for unrelated root: %+v", ev)
	default:
	}
}

func TestGetReturnsLastPutValue(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Put(context.Background(), "/mw/pvm/netflow", "10.0.0.1:9999"))
	v, ok, err := b.Get(context.Background(), "/mw/pvm/netflow")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1:9999", v)
}

func TestCancelClosesSubscriberChannel(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "/mw")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after context cancellation")
	}
}
