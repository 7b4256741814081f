package runlog_test

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

type recordingInner struct {
	events []events.Event
}

func (r *recordingInner) Emit(e events.Event) { r.events = append(r.events, e) }

func TestSinkAppendsThenForwards(t *testing.T) {
	store := inmem.New()
	inner := &recordingInner{}
	sink := runlog.Sink{Store: store, Inner: inner}

	ev := events.Event{Seq: 1, Type: events.TypeItemStarted, SessionID: "s1", Timestamp: time.Now(), Data: events.DataItemStarted{ItemID: "1"}}
	sink.Emit(ev)

	require.Len(t, inner.events, 1)
	assert.Equal(t, ev, inner.events[0])

	page, err := store.List(context.Background(), "s1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, events.TypeItemStarted, page.Events[0].Type)
}

type failingStore struct{}

func (failingStore) Append(context.Context, *runlog.Event) error { return assertErr }
func (failingStore) List(context.Context, string, string, int) (runlog.Page, error) {
	return runlog.Page{}, nil
}

var assertErr = context.DeadlineExceeded

func TestSinkStillForwardsOnAppendFailure(t *testing.T) {
	inner := &recordingInner{}
	var gotErr error
	sink := runlog.Sink{Store: failingStore{}, Inner: inner, OnAppendError: func(err error, _ events.Event) { gotErr = err }}

	sink.Emit(events.Event{Type: events.TypeItemStarted, SessionID: "s1"})

	require.Len(t, inner.events, 1, "a run log outage must not drop the live event stream")
	assert.ErrorIs(t, gotErr, assertErr)
}
