package moderation

import (
	"context"
	"sort"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/mmbots/linkguard/internal/db"
)

type counterKey2 struct {
	chatID, userID int64
}

type jobKey2 struct {
	chatID    int64
	messageID int
}

// memStore is an in-memory db.Client for tests.
type memStore struct {
	mu         sync.Mutex
	users      map[int64]struct{}
	chats      map[int64]*db.ChatRecord
	counters   map[counterKey2]*db.SpamCounter
	jobs       map[jobKey2]*db.DeleteJob
	migrations [][2]int64
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]struct{}{},
		chats:    map[int64]*db.ChatRecord{},
		counters: map[counterKey2]*db.SpamCounter{},
		jobs:     map[jobKey2]*db.DeleteJob{},
	}
}

func (s *memStore) Close() error { return nil }

func (s *memStore) InsertUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
	return nil
}

func (s *memStore) DeleteUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *memStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *memStore) GetUserPage(_ context.Context, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) UpsertChat(_ context.Context, chat *db.ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *chat
	s.chats[chat.ID] = &cp
	return nil
}

func (s *memStore) DeleteChat(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}

func (s *memStore) GetChat(_ context.Context, chatID int64) (*db.ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	cp := *chat
	return &cp, nil
}

func (s *memStore) CountChats(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chats)), nil
}

func (s *memStore) CountAdminChats(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, chat := range s.chats {
		if chat.IsAdmin {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetChatPage(_ context.Context, afterID int64, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.chats {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) MigrateChat(_ context.Context, oldID, newID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations = append(s.migrations, [2]int64{oldID, newID})
	if chat, ok := s.chats[oldID]; ok {
		delete(s.chats, oldID)
		chat.ID = newID
		s.chats[newID] = chat
	}
	return nil
}

func (s *memStore) GetSpamCounter(_ context.Context, chatID, userID int64) (*db.SpamCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[counterKey2{chatID, userID}]
	if !ok {
		return nil, nil
	}
	cp := *counter
	return &cp, nil
}

func (s *memStore) UpsertSpamCounter(_ context.Context, counter *db.SpamCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *counter
	s.counters[counterKey2{counter.ChatID, counter.UserID}] = &cp
	return nil
}

func (s *memStore) DeleteSpamCounter(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, counterKey2{chatID, userID})
	return nil
}

func (s *memStore) DeleteChatCounters(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.counters {
		if key.chatID == chatID {
			delete(s.counters, key)
		}
	}
	return nil
}

func (s *memStore) AddDeleteJob(_ context.Context, job *db.DeleteJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[jobKey2{job.ChatID, job.MessageID}] = &cp
	return nil
}

func (s *memStore) RemoveDeleteJob(_ context.Context, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobKey2{chatID, messageID})
	return nil
}

func (s *memStore) RemoveChatDeleteJobs(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.jobs {
		if key.chatID == chatID {
			delete(s.jobs, key)
		}
	}
	return nil
}

func (s *memStore) GetDeleteJobs(_ context.Context) ([]*db.DeleteJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*db.DeleteJob
	for _, job := range s.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs, nil
}

// fakeSource scripts GetChatMember responses per chat.
type fakeSource struct {
	self int64

	mu      sync.Mutex
	calls   int
	respond func(chatID, userID int64) (*api.ChatMember, error)
}

func (f *fakeSource) Self() int64 { return f.self }

func (f *fakeSource) Member(_ context.Context, chatID, userID int64) (*api.ChatMember, error) {
	f.mu.Lock()
	f.calls++
	respond := f.respond
	f.mu.Unlock()
	return respond(chatID, userID)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) setRespond(respond func(chatID, userID int64) (*api.ChatMember, error)) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

func adminMember() (*api.ChatMember, error) {
	return &api.ChatMember{Status: "administrator"}, nil
}

func plainMember() (*api.ChatMember, error) {
	return &api.ChatMember{Status: "member"}, nil
}
