package vouchersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallybridge/tallybridge/internal/tally"
)

var (
	acme   = tally.Company{LocationID: "1", GUID: "guid-acme", Name: "Acme"}
	globex = tally.Company{LocationID: "2", GUID: "guid-globex", Name: "Globex"}
	fixed  = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func rowsXML(ids ...int64) string {
	var b strings.Builder
	b.WriteString("<ENVELOPE><RESULTDATA>")
	for _, id := range ids {
		fmt.Fprintf(&b, "<ROW><COL>%d</COL><COL>20240601</COL><COL>SO/%d</COL><COL>Sales Order</COL><COL>Party</COL><COL>100</COL><COL/></ROW>", id, id)
	}
	b.WriteString("</RESULTDATA></ENVELOPE>")
	return b.String()
}

type stubQuerier struct {
	mu     sync.Mutex
	body   string
	err    error
	bodies []string
}

func (q *stubQuerier) Query(_ context.Context, _ tally.Company, _ string, body string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bodies = append(q.bodies, body)
	return q.body, q.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func TestRedisStoreAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))

	wm, err := store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wm.LastMasterID)
	assert.True(t, wm.LastCheckedAt.IsZero())

	for _, step := range []struct{ in, want int64 }{{100, 100}, {50, 100}, {100, 100}, {150, 150}, {0, 150}, {151, 151}} {
		wm, err = store.Advance(ctx, acme.GUID, step.in, fixed)
		require.NoError(t, err)
		assert.Equal(t, step.want, wm.LastMasterID, "advance to %d", step.in)
	}

	wm, err = store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(151), wm.LastMasterID)
	assert.True(t, fixed.Equal(wm.LastCheckedAt))

	other, err := store.Load(ctx, globex.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.LastMasterID)
}

func TestPollCountsOnlyRowsAboveWatermark(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))
	_, err := store.Advance(ctx, acme.GUID, 100, fixed.Add(-time.Hour))
	require.NoError(t, err)

	querier := &stubQuerier{body: rowsXML(98, 101, 105)}
	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: querier, Store: store, Notifier: notifier, Now: func() time.Time { return fixed }})

	res := poller.Poll(ctx, acme)
	assert.Equal(t, StatusAdvanced, res.Status)
	assert.Equal(t, 2, res.NewCount)
	assert.Equal(t, int64(105), res.Watermark)
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, 2, notifier.notes[0].NewCount)
	assert.Equal(t, "2 new vouchers awaiting authorization", notifier.notes[0].Title())
	require.Len(t, querier.bodies, 1)
	assert.Contains(t, querier.bodies[0], "$MasterID &gt; 100")

	wm, err := store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(105), wm.LastMasterID)
	assert.True(t, fixed.Equal(wm.LastCheckedAt))
}

func TestPollFailureLeavesWatermark(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))
	_, err := store.Advance(ctx, acme.GUID, 40, fixed.Add(-time.Hour))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: &stubQuerier{err: tally.ErrTimeout}, Store: store, Notifier: notifier, Now: func() time.Time { return fixed }})

	res := poller.Poll(ctx, acme)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, tally.ErrTimeout)
	assert.Empty(t, notifier.notes)

	wm, err := store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), wm.LastMasterID)
	assert.True(t, fixed.Add(-time.Hour).Equal(wm.LastCheckedAt))
}

func TestPollEmptyResultStampsCheckTime(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))
	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: &stubQuerier{body: rowsXML()}, Store: store, Notifier: notifier, Now: func() time.Time { return fixed }})

	res := poller.Poll(ctx, acme)
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.Zero(t, res.NewCount)
	assert.Empty(t, notifier.notes)

	wm, err := store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wm.LastMasterID)
	assert.True(t, fixed.Equal(wm.LastCheckedAt))
}

func TestPollWatermarkNeverDecreasesAcrossPolls(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))
	querier := &stubQuerier{}
	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: querier, Store: store, Notifier: notifier})

	sequence := []struct {
		rows []int64
		err  error
		want int64
	}{
		{rows: []int64{5, 9}, want: 9},
		{err: errors.New("offline"), want: 9},
		{rows: []int64{3}, want: 9},
		{rows: nil, want: 9},
		{rows: []int64{12}, want: 12},
	}
	for i, step := range sequence {
		querier.body, querier.err = rowsXML(step.rows...), step.err
		poller.Poll(ctx, acme)
		wm, err := store.Load(ctx, acme.GUID)
		require.NoError(t, err)
		assert.Equal(t, step.want, wm.LastMasterID, "step %d", i)
	}
	assert.Len(t, notifier.notes, 2)
}

type blockingQuerier struct {
	entered chan struct{}
	release chan struct{}
	rows    []int64
}

func (q *blockingQuerier) Query(context.Context, tally.Company, string, string) (string, error) {
	q.entered <- struct{}{}
	<-q.release
	return rowsXML(q.rows...), nil
}

func TestPollDropsOverlappingPoll(t *testing.T) {
	ctx := context.Background()
	querier := &blockingQuerier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	poller := NewPoller(PollerConfig{Querier: querier, Store: NewRedisStore(newTestRedis(t)), Notifier: &recordingNotifier{}})

	done := make(chan PollResult, 1)
	go func() { done <- poller.Poll(ctx, acme) }()
	<-querier.entered

	second := poller.Poll(ctx, acme)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.ErrorIs(t, second.Err, ErrPollInFlight)

	close(querier.release)
	first := <-done
	assert.Equal(t, StatusUnchanged, first.Status)
}

func TestPollersSharingRedisDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	querier := &blockingQuerier{entered: make(chan struct{}, 1), release: make(chan struct{}), rows: []int64{101, 105}}
	notifier := &recordingNotifier{}
	server := NewPoller(PollerConfig{Querier: querier, Store: NewRedisStore(client), Notifier: notifier})
	worker := NewPoller(PollerConfig{Querier: querier, Store: NewRedisStore(client), Notifier: notifier})

	done := make(chan PollResult, 1)
	go func() { done <- server.Poll(ctx, acme) }()
	<-querier.entered

	second := worker.Poll(ctx, acme)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.ErrorIs(t, second.Err, ErrPollInFlight)

	close(querier.release)
	first := <-done
	assert.Equal(t, StatusAdvanced, first.Status)
	assert.Equal(t, 2, first.NewCount)
	assert.Len(t, notifier.notes, 1)

	third := worker.Poll(ctx, acme)
	assert.Equal(t, StatusUnchanged, third.Status)
	assert.Len(t, notifier.notes, 1)
}

func TestRedisStoreLockReleasesOnlyOwnToken(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	unlock, ok, err := store.TryLock(ctx, acme.GUID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.TryLock(ctx, acme.GUID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = store.TryLock(ctx, acme.GUID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists(lockPrefix+acme.GUID))
}

func TestPollErrorEnvelopeFails(t *testing.T) {
	ctx := context.Background()
	store := NewRedisStore(newTestRedis(t))
	_, err := store.Advance(ctx, acme.GUID, 40, fixed.Add(-time.Hour))
	require.NoError(t, err)

	body := `<ENVELOPE><LINEERROR>Could not find Report 'ODBC Report'!</LINEERROR></ENVELOPE>`
	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: &stubQuerier{body: body}, Store: store, Notifier: notifier, Now: func() time.Time { return fixed }})

	res := poller.Poll(ctx, acme)
	assert.Equal(t, StatusFailed, res.Status)
	var qe *tally.QueryError
	assert.ErrorAs(t, res.Err, &qe)
	assert.Empty(t, notifier.notes)

	wm, err := store.Load(ctx, acme.GUID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), wm.LastMasterID)
	assert.True(t, fixed.Add(-time.Hour).Equal(wm.LastCheckedAt))
}

func TestPollAllKeepsOrder(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	poller := NewPoller(PollerConfig{Querier: &stubQuerier{body: rowsXML(7)}, Store: NewRedisStore(newTestRedis(t)), Notifier: notifier})

	results := poller.PollAll(ctx, []tally.Company{acme, globex})
	require.Len(t, results, 2)
	assert.Equal(t, acme.GUID, results[0].Company.GUID)
	assert.Equal(t, globex.GUID, results[1].Company.GUID)
	for _, res := range results {
		assert.Equal(t, StatusAdvanced, res.Status)
		assert.Equal(t, 1, res.NewCount)
	}
	assert.Len(t, notifier.notes, 2)
}

func TestRedisNotifierPublishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := newTestRedis(t)

	sub := client.Subscribe(ctx, Channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	note := Notification{CompanyGUID: acme.GUID, CompanyName: acme.Name, NewCount: 1, LastMasterID: 7, At: fixed}
	require.NoError(t, NewRedisNotifier(client).Notify(ctx, note))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, 1, got.NewCount)
	assert.Equal(t, acme.GUID, got.CompanyGUID)
	assert.Equal(t, "1 new voucher awaiting authorization", got.Title())
}
