package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := New(EventTypeEntityCreated, SourceBulkSync, 42, "hydrated")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventTypeEntityCreated, e.Type)
	assert.Equal(t, SourceBulkSync, e.Source)
	assert.Equal(t, int64(42), e.EntityID)
	assert.False(t, e.Timestamp.IsZero())

	// IDs are unique per event.
	other := New(EventTypeEntityCreated, SourceBulkSync, 42, "")
	assert.NotEqual(t, e.ID, other.ID)
}

func TestLinkConstructors(t *testing.T) {
	linked := NewLinked(SourceWebhook, 1, 2)
	assert.Equal(t, EventTypeEntityLinked, linked.Type)
	assert.Equal(t, int64(1), linked.EntityID)
	assert.Equal(t, int64(2), linked.RelatedID)

	unlinked := NewUnlinked(SourceBulkSync, 1, 2)
	assert.Equal(t, EventTypeEntityUnlinked, unlinked.Type)

	parent := NewParentChanged(SourceWebhook, 3, 0)
	assert.Equal(t, EventTypeParentChanged, parent.Type)
	assert.Zero(t, parent.RelatedID)
}

func TestCollectSink(t *testing.T) {
	sink := &CollectSink{}
	ctx := context.Background()

	sink.Publish(ctx, New(EventTypeEntityCreated, SourceBulkSync, 1, ""))
	sink.Publish(ctx, NewLinked(SourceWebhook, 1, 2))
	sink.Publish(ctx, NewLinked(SourceWebhook, 1, 3))

	assert.Len(t, sink.Events(), 3)
	require.Len(t, sink.OfType(EventTypeEntityLinked), 2)
	assert.Len(t, sink.OfType(EventTypeEntityDeleted), 0)

	sink.Reset()
	assert.Empty(t, sink.Events())
}

func TestCollectSinkConcurrent(t *testing.T) {
	sink := &CollectSink{}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sink.Publish(ctx, New(EventTypeEntityUpdated, SourceBulkSync, int64(j), ""))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sink.Events(), 1000)
}
