package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"quel-drawcore/internal/model"
)

// fakeClock lets pace's backoff windows resolve instantly in tests instead
// of sleeping out real intervals.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.now = f.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}

func TestPaceUsesInjectedClock(t *testing.T) {
	account := &model.Account{
		ChannelID:        "c1",
		IntervalMin:      10 * time.Millisecond,
		AfterIntervalMin: 100 * time.Millisecond,
		AfterIntervalMax: 100 * time.Millisecond,
		QueueSize:        map[model.Mode]int{model.ModeFast: 1},
	}
	in := New(account, nil, nil, zap.NewNop())
	clock := &fakeClock{now: time.Unix(0, 0)}
	in.SetClock(clock)

	start := clock.Now()
	in.pace(context.Background())
	assert.Equal(t, start.Add(10*time.Millisecond), clock.Now(), "first pace waits the account's IntervalMin")

	in.pace(context.Background())
	assert.Equal(t, start.Add(110*time.Millisecond), clock.Now(), "second pace tops up to the full AfterInterval window measured from the first send")
}

func TestAcceptsNewTaskReadsInjectedClock(t *testing.T) {
	account := &model.Account{
		ChannelID:     "c1",
		Connected:     true,
		WorkHourStart: 9,
		WorkHourEnd:   17,
		QueueSize:     map[model.Mode]int{model.ModeFast: 1},
	}
	in := New(account, nil, nil, zap.NewNop())

	inHours := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in.SetClock(&fakeClock{now: inHours})
	assert.True(t, in.AcceptsNewTask())

	outOfHours := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	in.SetClock(&fakeClock{now: outOfHours})
	assert.False(t, in.AcceptsNewTask())
}
