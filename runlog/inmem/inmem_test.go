package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskflow/events"
	"goa.design/taskflow/runlog"
	"goa.design/taskflow/runlog/inmem"
)

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := &runlog.Event{RunID: "r1", Type: events.TypeItemStarted, Timestamp: time.Now()}
		require.NoError(t, s.Append(ctx, e))
		assert.Equal(t, []string{"1", "2", "3"}[i], e.Seq)
	}
}

func TestAppendRequiresRunID(t *testing.T) {
	s := inmem.New()
	err := s.Append(context.Background(), &runlog.Event{Type: events.TypeItemStarted})
	assert.Error(t, err)
}

func TestListPaginatesWithCursor(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, &runlog.Event{RunID: "r1", Type: events.TypeItemStarted}))
	}

	page, err := s.List(ctx, "r1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "1", page.Events[0].Seq)
	assert.Equal(t, "2", page.Events[1].Seq)
	assert.Equal(t, "2", page.NextCursor)

	page2, err := s.List(ctx, "r1", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 2)
	assert.Equal(t, "3", page2.Events[0].Seq)
	assert.Equal(t, "4", page2.NextCursor)

	page3, err := s.List(ctx, "r1", page2.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page3.Events, 1)
	assert.Equal(t, "5", page3.Events[0].Seq)
	assert.Empty(t, page3.NextCursor)
}

func TestListUnknownRunReturnsEmptyPage(t *testing.T) {
	s := inmem.New()
	page, err := s.List(context.Background(), "missing", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}
