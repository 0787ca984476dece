package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/pkg/logx"
)

type fakeSendLog struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakeSendLog) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

type fakeReminders struct {
	calls int
	err   error
}

func (f *fakeReminders) RemindTrials(context.Context) (int, error) {
	f.calls++
	return 2, f.err
}

type runs map[string][]string

func (r runs) JobRun(job, status string) { r[job] = append(r[job], status) }

func TestPruneUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sl := &fakeSendLog{n: 4}
	rec := runs{}
	s := New(Config{}, sl, nil, rec, logx.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunNow(context.Background(), PruneSendLog))

	assert.Equal(t, now.Add(-48*time.Hour), sl.cutoff)
	assert.Equal(t, []string{"ok"}, rec[PruneSendLog])
}

func TestFailureIsRecorded(t *testing.T) {
	rem := &fakeReminders{err: errors.New("db down")}
	rec := runs{}
	s := New(Config{}, nil, rem, rec, logx.Nop())

	err := s.RunNow(context.Background(), RemindTrials)

	require.Error(t, err)
	assert.Equal(t, 1, rem.calls)
	assert.Equal(t, []string{"error"}, rec[RemindTrials])
}

func TestUnknownJob(t *testing.T) {
	s := New(Config{}, nil, nil, nil, logx.Nop())
	assert.Error(t, s.RunNow(context.Background(), PruneSendLog))
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := New(Config{PruneSpec: "every tuesday"}, &fakeSendLog{}, nil, nil, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
}

func TestStartRejectsBadTimezone(t *testing.T) {
	s := New(Config{Timezone: "Mars/Olympus"}, &fakeSendLog{}, nil, nil, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
}

func TestNextFollowsSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s := New(Config{}, &fakeSendLog{}, &fakeReminders{}, nil, logx.Nop())
	s.now = func() time.Time { return now }

	assert.True(t, s.Next(RemindTrials).IsZero())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), s.Next(RemindTrials))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), s.Next(PruneSendLog))
}
