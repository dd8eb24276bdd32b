package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-tower/internal/summarize"
	"github.com/asheshgoplani/agent-tower/internal/tower"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tower.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndReadEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := tower.NewEvent("api", tower.EventError, tower.StateFailed,
		"npm ERR! boom", []string{"npm ERR! boom"})
	require.NoError(t, s.RecordEvent(ctx, ev))
	ev2 := tower.NewEvent("backend", tower.EventPermission, tower.StateWaiting,
		"Allow? [y/N]", []string{"Allow? [y/N]"})
	require.NoError(t, s.RecordEvent(ctx, ev2))

	all, err := s.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Newest first.
	require.Equal(t, "backend", all[0].Session)
	require.Equal(t, tower.EventPermission, all[0].Kind)
	require.Equal(t, []string{"Allow? [y/N]"}, all[0].KeyLines)

	only, err := s.RecentEvents(ctx, "api", 10)
	require.NoError(t, err)
	require.Len(t, only, 1)
	require.Equal(t, "api", only[0].Session)
}

func TestRecordAndReadInteractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := tower.Interaction{
		ID:         "dec-1",
		Timestamp:  time.Now(),
		Session:    "api",
		EventKind:  tower.EventPermission,
		SpeechText: "api wants permission",
		Options: []summarize.Option{
			{Key: "1", Label: "Approve", Instruction: "y"},
		},
		Response:    "1",
		Instruction: "y",
		Outcome:     tower.OutcomeSent,
	}
	require.NoError(t, s.RecordInteraction(ctx, in))

	got, err := s.RecentInteractions(ctx, "api", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	require.Equal(t, "dec-1", r.ID)
	require.Equal(t, "1", r.Response)
	require.Equal(t, "y", r.Instruction)
	require.Equal(t, tower.OutcomeSent, r.Outcome)
	require.Len(t, r.Options, 1)
	require.Equal(t, "Approve", r.Options[0].Label)
}

func TestEventCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordEvent(ctx, tower.NewEvent("api",
			tower.EventError, tower.StateFailed, "x", nil)))
	}
	require.NoError(t, s.RecordEvent(ctx, tower.NewEvent("api",
		tower.EventStuck, tower.StateStuck, "x", nil)))

	counts, err := s.EventCounts(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 3, counts["api"][tower.EventError])
	require.Equal(t, 1, counts["api"][tower.EventStuck])
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := tower.NewEvent("api", tower.EventError, tower.StateFailed, "x", nil)
	old.DetectedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.RecordEvent(ctx, old))
	require.NoError(t, s.RecordEvent(ctx, tower.NewEvent("api",
		tower.EventError, tower.StateFailed, "y", nil)))

	n, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	left, err := s.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tower.db")
	ctx := context.Background()

	s1, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.RecordEvent(ctx, tower.NewEvent("api",
		tower.EventError, tower.StateFailed, "x", nil)))
	require.NoError(t, s1.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.RecentEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.RecordEvent(ctx, tower.NewEvent("api",
					tower.EventError, tower.StateFailed, "x", nil)); err != nil {
					t.Errorf("RecordEvent: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.RecentEvents(ctx, "", 200)
	require.NoError(t, err)
	require.Len(t, got, 80)
}
