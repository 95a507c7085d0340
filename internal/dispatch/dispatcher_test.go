package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/notify"
)

type mockSender struct {
	writable   map[string]bool
	dmErr      error
	failPostAt map[int]bool
	block      bool

	posts  []string
	opened []string
	calls  int
}

func (m *mockSender) ChannelWritable(_ context.Context, channelID string) (bool, error) {
	if ok, found := m.writable[channelID]; found {
		return ok, nil
	}
	return false, errors.New("channel_not_found")
}

func (m *mockSender) OpenDirect(_ context.Context, userID string) (string, error) {
	if m.dmErr != nil {
		return "", m.dmErr
	}
	m.opened = append(m.opened, userID)
	return "D-" + userID, nil
}

func (m *mockSender) Post(ctx context.Context, channelID string, msg notify.Message) error {
	m.calls++
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.failPostAt[m.calls] {
		return errors.New("not_in_channel")
	}
	m.posts = append(m.posts, channelID+"|"+msg.Text[:10])
	return nil
}

type batchCounter map[string]int

func (c batchCounter) RecordBatch(result string) { c[result]++ }

func entries(n int) []models.InactiveEntry {
	out := make([]models.InactiveEntry, n)
	for i := range out {
		out[i] = models.InactiveEntry{MemberID: "U", DaysSince: models.NeverDays}
	}
	return out
}

var rc = notify.RenderContext{ThresholdDays: 3, Now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

func TestSend_ConfiguredChannel(t *testing.T) {
	s := &mockSender{writable: map[string]bool{"C1": true}}
	d := New(s, Options{}, zerolog.Nop())

	out := d.Send(context.Background(), notify.Batch(entries(45), 20), models.ChannelTarget("C1"), "U-owner", rc)

	require.Len(t, out, 3)
	for i, o := range out {
		assert.True(t, o.OK())
		assert.Equal(t, i+1, o.Index)
		assert.Equal(t, "C1", o.Destination.ChannelID)
		assert.False(t, o.Destination.Direct())
	}
	assert.Len(t, s.posts, 3)
	assert.Empty(t, s.opened)
}

func TestSend_FallsBackToDirectMessage(t *testing.T) {
	s := &mockSender{writable: map[string]bool{"C-archived": false}}
	d := New(s, Options{}, zerolog.Nop())

	for _, target := range []models.DeliveryTarget{models.ChannelTarget("C-archived"), models.ChannelTarget("C-gone")} {
		out := d.Send(context.Background(), notify.Batch(nil, 20), target, "U-req", rc)
		require.Len(t, out, 1)
		assert.True(t, out[0].OK())
		assert.True(t, out[0].Destination.FellBack)
		assert.Equal(t, "D-U-req", out[0].Destination.ChannelID)
	}
}

func TestSend_DirectTarget(t *testing.T) {
	s := &mockSender{}
	d := New(s, Options{}, zerolog.Nop())

	out := d.Send(context.Background(), notify.Batch(entries(1), 20), models.DirectTarget(), "U-owner", rc)
	require.Len(t, out, 1)
	assert.True(t, out[0].OK())
	assert.False(t, out[0].Destination.FellBack)
	assert.Equal(t, []string{"U-owner"}, s.opened)
}

func TestSend_FailureDoesNotAbortRemaining(t *testing.T) {
	s := &mockSender{writable: map[string]bool{"C1": true}, failPostAt: map[int]bool{2: true}}
	counter := batchCounter{}
	d := New(s, Options{}, zerolog.Nop())
	d.SetRecorder(counter)

	out := d.Send(context.Background(), notify.Batch(entries(5), 2), models.ChannelTarget("C1"), "", rc)

	require.Len(t, out, 3)
	assert.True(t, out[0].OK())
	assert.False(t, out[1].OK())
	assert.True(t, out[2].OK())
	assert.Equal(t, 3, s.calls, "no retry")
	assert.Equal(t, 2, counter["sent"])
	assert.Equal(t, 1, counter["failed"])
}

func TestSend_NoDestination(t *testing.T) {
	d := New(&mockSender{}, Options{}, zerolog.Nop())

	out := d.Send(context.Background(), notify.Batch(entries(3), 2), models.DirectTarget(), "", rc)
	require.Len(t, out, 2)
	for _, o := range out {
		assert.ErrorIs(t, o.Err, ErrNoDestination)
	}

	d = New(&mockSender{dmErr: errors.New("user_not_found")}, Options{}, zerolog.Nop())
	out = d.Send(context.Background(), notify.Batch(nil, 2), models.DirectTarget(), "U1", rc)
	require.Len(t, out, 1)
	assert.ErrorIs(t, out[0].Err, ErrNoDestination)
}

func TestSend_TimeoutBoundsEachBatch(t *testing.T) {
	s := &mockSender{writable: map[string]bool{"C1": true}, block: true}
	d := New(s, Options{SendTimeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	out := d.Send(context.Background(), notify.Batch(entries(2), 1), models.ChannelTarget("C1"), "", rc)

	require.Len(t, out, 2)
	for _, o := range out {
		assert.ErrorIs(t, o.Err, perrors.ErrTimeout)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSend_RatePacing(t *testing.T) {
	s := &mockSender{writable: map[string]bool{"C1": true}}
	d := New(s, Options{RatePerSec: 20}, zerolog.Nop())

	start := time.Now()
	out := d.Send(context.Background(), notify.Batch(entries(3), 1), models.ChannelTarget("C1"), "", rc)
	require.Len(t, out, 3)
	// burst 1 at 20/s: the 2nd and 3rd sends wait ~50ms each
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}
