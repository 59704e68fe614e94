package scheduler

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job kinds used across the system. A (kind, chat, seq) triple names at most
// one pending job; scheduling over an existing key replaces it.
const (
	KindReminder  = "admin_reminder"
	KindAutoLeave = "auto_leave"
	KindDemotion  = "demotion_check"
	KindDelete    = "msg_delete"
)

type jobKey struct {
	kind   string
	chatID int64
	seq    int64
}

type job struct {
	key   jobKey
	timer *time.Timer
	fn    func(chatID int64)
}

// Scheduler runs delayed, cancellable, named units of work. Jobs live only in
// memory: everything scheduled here is re-derivable from platform state.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[jobKey]*job
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{jobs: map[jobKey]*job{}}
}

func (s *Scheduler) Schedule(kind string, chatID, seq int64, delay time.Duration, fn func(chatID int64)) {
	key := jobKey{kind: kind, chatID: chatID, seq: seq}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if prev, ok := s.jobs[key]; ok {
		prev.timer.Stop()
	}
	j := &job{key: key, fn: fn}
	j.timer = time.AfterFunc(delay, func() { s.fire(j) })
	s.jobs[key] = j
}

func (s *Scheduler) fire(j *job) {
	s.mu.Lock()
	current, ok := s.jobs[j.key]
	if !ok || current != j {
		// cancelled or replaced between timer fire and lock acquisition
		s.mu.Unlock()
		return
	}
	delete(s.jobs, j.key)
	chatID := j.key.chatID
	s.mu.Unlock()

	defer func() {
		if err := recover(); err != nil {
			log.Errorf("job %s:%d:%d panics: %v", j.key.kind, j.key.chatID, j.key.seq, err)
		}
	}()
	j.fn(chatID)
}

func (s *Scheduler) Cancel(kind string, chatID, seq int64) bool {
	key := jobKey{kind: kind, chatID: chatID, seq: seq}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return false
	}
	j.timer.Stop()
	delete(s.jobs, key)
	return true
}

// CancelKind removes every pending job of one kind for a chat.
func (s *Scheduler) CancelKind(kind string, chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	for key, j := range s.jobs {
		if key.kind == kind && key.chatID == chatID {
			j.timer.Stop()
			delete(s.jobs, key)
			cancelled++
		}
	}
	return cancelled
}

// CancelChat removes every pending job referencing a chat, regardless of kind.
func (s *Scheduler) CancelChat(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := 0
	for key, j := range s.jobs {
		if key.chatID == chatID {
			j.timer.Stop()
			delete(s.jobs, key)
			cancelled++
		}
	}
	return cancelled
}

// MigrateChat re-keys pending jobs to a chat's successor id without touching
// their timers. Fired jobs observe the new id.
func (s *Scheduler) MigrateChat(oldID, newID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for key, j := range s.jobs {
		if key.chatID != oldID {
			continue
		}
		delete(s.jobs, key)
		newKey := key
		newKey.chatID = newID
		if prev, ok := s.jobs[newKey]; ok {
			prev.timer.Stop()
		}
		j.key = newKey
		s.jobs[newKey] = j
		moved++
	}
	return moved
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, key)
	}
}
