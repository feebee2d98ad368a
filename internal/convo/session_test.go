package convo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/domain"
)

func TestNewGeneratesID(t *testing.T) {
	s := New("", "planning")
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "planning", s.Title())
	assert.Zero(t, s.Sequence())
}

// --- Append / sequence tests ---

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s := New("conv-1", "")

	for i := 1; i <= 5; i++ {
		seq := s.Append(domain.NewMessage(domain.UserSource(), "msg"))
		assert.Equal(t, int64(i), seq)
	}
	assert.Equal(t, int64(5), s.Sequence())
	assert.Len(t, s.Messages(), 5)
}

func TestAppendBroadcastsBeforeReturning(t *testing.T) {
	s := New("conv-1", "")

	var got []Event
	s.Subscribe("test", func(ev Event) {
		got = append(got, ev)
	})

	msg := domain.NewMessage(domain.UserSource(), "hello")
	seq := s.Append(msg)

	require.Len(t, got, 1)
	assert.Equal(t, seq, got[0].Sequence)
	assert.Equal(t, msg.ID, got[0].Message.ID)
}

func TestAppendNotifiesSubscribersInOrder(t *testing.T) {
	s := New("conv-1", "")

	var order []string
	s.Subscribe("first", func(Event) { order = append(order, "first") })
	s.Subscribe("second", func(Event) { order = append(order, "second") })

	s.Append(domain.NewMessage(domain.UserSource(), "hi"))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestConcurrentAppendsAssignUniqueSequences(t *testing.T) {
	s := New("conv-1", "")

	const n = 50
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seqs <- s.Append(domain.NewMessage(domain.UserSource(), "x"))
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		assert.False(t, seen[seq], "sequence %d assigned twice", seq)
		seen[seq] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), s.Sequence())
}

func TestBroadcastDeliversEventsInSequenceOrder(t *testing.T) {
	s := New("conv-1", "")

	var mu sync.Mutex
	var got []int64
	s.Subscribe("order", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Sequence)
		mu.Unlock()
	})

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(domain.NewMessage(domain.UserSource(), "x"))
		}()
	}
	wg.Wait()

	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1], "events delivered out of order")
	}
}

// A subscriber that reads the session back while appends race must never
// wedge the log: handlers run outside the state lock, so Snapshot and
// MessagesAfter from inside a handler complete even when another goroutine
// is blocked in Append.
func TestConcurrentAppendsWithReadingSubscriber(t *testing.T) {
	s := New("conv-1", "")

	s.Subscribe("persist", func(ev Event) {
		time.Sleep(10 * time.Millisecond)
		rec := s.Snapshot()
		assert.GreaterOrEqual(t, rec.Sequence, ev.Sequence)
		assert.NotNil(t, s.MessagesAfter(ev.Sequence-1))
	})

	const n = 8
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Append(domain.NewMessage(domain.UserSource(), "x"))
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent appends with a reading subscriber did not complete")
	}
	assert.Equal(t, int64(n), s.Sequence())
	assert.Len(t, s.Messages(), n)
}

// --- MessagesAfter tests ---

func TestMessagesAfter(t *testing.T) {
	s := New("conv-1", "")
	s.Append(domain.NewMessage(domain.UserSource(), "one"))
	s.Append(domain.NewMessage(domain.UserSource(), "two"))
	s.Append(domain.NewMessage(domain.UserSource(), "three"))

	after1 := s.MessagesAfter(1)
	require.Len(t, after1, 2)
	assert.Equal(t, "two", after1[0].Content)
	assert.Equal(t, "three", after1[1].Content)

	assert.Len(t, s.MessagesAfter(0), 3)
	assert.Nil(t, s.MessagesAfter(3))
	assert.Nil(t, s.MessagesAfter(99))
}

func TestMessagesAfterNegativeCursor(t *testing.T) {
	s := New("conv-1", "")
	s.Append(domain.NewMessage(domain.UserSource(), "one"))
	assert.Len(t, s.MessagesAfter(-5), 1)
}

func TestMessagesAfterReturnsCopy(t *testing.T) {
	s := New("conv-1", "")
	s.Append(domain.NewMessage(domain.UserSource(), "one"))

	out := s.MessagesAfter(0)
	out[0].Content = "mutated"
	assert.Equal(t, "one", s.Messages()[0].Content)
}

// --- Subscription tests ---

func TestUnsubscribe(t *testing.T) {
	s := New("conv-1", "")

	calls := 0
	s.Subscribe("a", func(Event) { calls++ })
	s.Subscribe("b", func(Event) { calls++ })
	require.Equal(t, 2, s.SubscriberCount())

	s.Unsubscribe("a")
	assert.Equal(t, 1, s.SubscriberCount())

	s.Append(domain.NewMessage(domain.UserSource(), "x"))
	assert.Equal(t, 1, calls)
}

func TestUnsubscribeUnknownNameIsNoop(t *testing.T) {
	s := New("conv-1", "")
	s.Subscribe("a", func(Event) {})
	s.Unsubscribe("missing")
	assert.Equal(t, 1, s.SubscriberCount())
}

// --- Participant tests ---

func TestAddParticipant(t *testing.T) {
	s := New("conv-1", "")
	s.AddParticipant("claude")
	s.AddParticipant("codex")
	s.AddParticipant("claude") // duplicate, no-op

	assert.Equal(t, []string{"claude", "codex"}, s.Participants())
}

// --- Snapshot / Restore tests ---

func TestSnapshotAndRestore(t *testing.T) {
	s := New("conv-1", "standup")
	s.AddParticipant("claude")
	s.Append(domain.NewMessage(domain.UserSource(), "hello"))
	s.Append(domain.NewMessage(domain.AgentSource("Claude", "claude", ""), "hi"))

	rec := s.Snapshot()
	assert.Equal(t, "conv-1", rec.ID)
	assert.Equal(t, "standup", rec.Title)
	assert.Equal(t, int64(2), rec.Sequence)
	require.Len(t, rec.Messages, 2)

	restored := Restore(rec)
	assert.Equal(t, s.ID(), restored.ID())
	assert.Equal(t, int64(2), restored.Sequence())
	assert.Equal(t, []string{"claude"}, restored.Participants())
	assert.Equal(t, "hello", restored.Messages()[0].Content)

	// appends continue from the restored counter
	seq := restored.Append(domain.NewMessage(domain.UserSource(), "again"))
	assert.Equal(t, int64(3), seq)
}

func TestRestoreDerivesSequenceFromMessages(t *testing.T) {
	rec := domain.SessionRecord{
		ID:    "conv-1",
		Title: "standup",
		Messages: []domain.Message{
			domain.NewMessage(domain.UserSource(), "one"),
			domain.NewMessage(domain.UserSource(), "two"),
		},
		Sequence: 99, // inconsistent counter must not be trusted
	}

	s := Restore(rec)
	assert.Equal(t, int64(2), s.Sequence())
	assert.Len(t, s.MessagesAfter(0), 2)
	assert.Nil(t, s.MessagesAfter(2))

	seq := s.Append(domain.NewMessage(domain.UserSource(), "three"))
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, "three", s.MessagesAfter(2)[0].Content)
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	s := New("conv-1", "")
	s.Append(domain.NewMessage(domain.UserSource(), "hello"))

	rec := s.Snapshot()
	rec.Messages[0].Content = "mutated"
	assert.Equal(t, "hello", s.Messages()[0].Content)
}
