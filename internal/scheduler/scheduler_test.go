package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedule_Fires(t *testing.T) {
	s := New()
	defer s.Stop()

	var got atomic.Int64
	s.Schedule(KindReminder, 10, 1, 10*time.Millisecond, func(chatID int64) {
		got.Store(chatID)
	})

	waitFor(t, time.Second, func() bool { return got.Load() == 10 })
	if s.Pending() != 0 {
		t.Fatalf("%d jobs pending after fire", s.Pending())
	}
}

func TestCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Bool
	s.Schedule(KindReminder, 10, 1, 30*time.Millisecond, func(int64) { fired.Store(true) })
	if !s.Cancel(KindReminder, 10, 1) {
		t.Fatal("cancel reported no pending job")
	}

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled job fired")
	}
	if s.Cancel(KindReminder, 10, 1) {
		t.Fatal("cancel succeeded twice")
	}
}

func TestScheduleReplacesSameKey(t *testing.T) {
	s := New()
	defer s.Stop()

	var first, second atomic.Bool
	s.Schedule(KindAutoLeave, 10, 0, 20*time.Millisecond, func(int64) { first.Store(true) })
	s.Schedule(KindAutoLeave, 10, 0, 20*time.Millisecond, func(int64) { second.Store(true) })

	waitFor(t, time.Second, second.Load)
	if first.Load() {
		t.Fatal("replaced job fired")
	}
}

func TestCancelKindAndChat(t *testing.T) {
	s := New()
	defer s.Stop()

	noop := func(int64) {}
	for seq := int64(1); seq <= 3; seq++ {
		s.Schedule(KindReminder, 10, seq, time.Hour, noop)
	}
	s.Schedule(KindAutoLeave, 10, 0, time.Hour, noop)
	s.Schedule(KindReminder, 11, 1, time.Hour, noop)

	if n := s.CancelKind(KindReminder, 10); n != 3 {
		t.Fatalf("CancelKind removed %d jobs, want 3", n)
	}
	if n := s.CancelChat(10); n != 1 {
		t.Fatalf("CancelChat removed %d jobs, want 1", n)
	}
	if s.Pending() != 1 {
		t.Fatalf("%d jobs pending, want the unrelated chat's 1", s.Pending())
	}
}

func TestMigrateChat_RekeysPendingJobs(t *testing.T) {
	s := New()
	defer s.Stop()

	var got atomic.Int64
	s.Schedule(KindReminder, 10, 1, 30*time.Millisecond, func(chatID int64) {
		got.Store(chatID)
	})

	if n := s.MigrateChat(10, 11); n != 1 {
		t.Fatalf("MigrateChat moved %d jobs, want 1", n)
	}
	waitFor(t, time.Second, func() bool { return got.Load() != 0 })
	if got.Load() != 11 {
		t.Fatalf("migrated job fired with chat id %d, want 11", got.Load())
	}
}

func TestStop_DropsEverything(t *testing.T) {
	s := New()

	var fired atomic.Bool
	s.Schedule(KindDelete, 10, 1, 20*time.Millisecond, func(int64) { fired.Store(true) })
	s.Stop()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("job fired after Stop")
	}
	s.Schedule(KindDelete, 10, 2, time.Millisecond, func(int64) { fired.Store(true) })
	if s.Pending() != 0 {
		t.Fatal("stopped scheduler accepted a job")
	}
}
