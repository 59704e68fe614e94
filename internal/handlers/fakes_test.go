package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/mmbots/linkguard/internal/db"
)

// fakeGateway stands in for the platform client on both sides the handlers
// touch: the Messenger they command and the member source the authorizer
// consults.
type fakeGateway struct {
	mu sync.Mutex

	selfID  int64
	nextMsg int

	sent      []sentMessage
	deleted   []deletedMessage
	left      []int64
	edits     []string
	callbacks []string

	members     map[memberKey]string
	memberCalls int

	deleteErr map[int64]error
}

type sentMessage struct {
	chatID int64
	text   string
}

type deletedMessage struct {
	chatID    int64
	messageID int
}

type memberKey struct {
	chatID int64
	userID int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		selfID:    1000,
		members:   map[memberKey]string{},
		deleteErr: map[int64]error{},
	}
}

func (g *fakeGateway) setMember(chatID, userID int64, status string) {
	g.mu.Lock()
	g.members[memberKey{chatID, userID}] = status
	g.mu.Unlock()
}

func (g *fakeGateway) Self() int64 { return g.selfID }

func (g *fakeGateway) SelfUsername() string { return "linkguard_bot" }

func (g *fakeGateway) Member(_ context.Context, chatID, userID int64) (*api.ChatMember, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memberCalls++
	status, ok := g.members[memberKey{chatID, userID}]
	if !ok {
		status = "member"
	}
	return &api.ChatMember{Status: status}, nil
}

func (g *fakeGateway) liveChecks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memberCalls
}

func (g *fakeGateway) SendMessage(_ context.Context, chatID int64, text string, _ any) (*api.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextMsg++
	g.sent = append(g.sent, sentMessage{chatID: chatID, text: text})
	return &api.Message{MessageID: g.nextMsg, Chat: api.Chat{ID: chatID}}, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.deleteErr[chatID]; ok {
		return err
	}
	g.deleted = append(g.deleted, deletedMessage{chatID: chatID, messageID: messageID})
	return nil
}

func (g *fakeGateway) EditMessageText(_ context.Context, _ int64, _ int, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edits = append(g.edits, text)
	return nil
}

func (g *fakeGateway) RestrictMember(_ context.Context, _, _ int64, _ time.Time) error {
	return nil
}

func (g *fakeGateway) LeaveChat(_ context.Context, chatID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.left = append(g.left, chatID)
	return nil
}

func (g *fakeGateway) AnswerCallback(_ context.Context, callbackID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, callbackID)
	return nil
}

func (g *fakeGateway) sentTo(chatID int64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var texts []string
	for _, s := range g.sent {
		if s.chatID == chatID {
			texts = append(texts, s.text)
		}
	}
	return texts
}

func (g *fakeGateway) deletedIn(chatID int64) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []int
	for _, d := range g.deleted {
		if d.chatID == chatID {
			ids = append(ids, d.messageID)
		}
	}
	sort.Ints(ids)
	return ids
}

// memStore is an in-memory db.Client.
type memStore struct {
	mu       sync.Mutex
	users    map[int64]struct{}
	chats    map[int64]*db.ChatRecord
	counters map[memberKey]*db.SpamCounter
	jobs     map[deletedMessage]*db.DeleteJob
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]struct{}{},
		chats:    map[int64]*db.ChatRecord{},
		counters: map[memberKey]*db.SpamCounter{},
		jobs:     map[deletedMessage]*db.DeleteJob{},
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

func (s *memStore) hasUser(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

func (s *memStore) CountUsers(context.Context) (int64, error) {
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
	copied := *chat
	s.chats[chat.ID] = &copied
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
	copied := *chat
	return &copied, nil
}

func (s *memStore) CountChats(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chats)), nil
}

func (s *memStore) CountAdminChats(context.Context) (int64, error) {
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
	if chat, ok := s.chats[oldID]; ok {
		delete(s.chats, oldID)
		chat.ID = newID
		s.chats[newID] = chat
	}
	for key, counter := range s.counters {
		if key.chatID == oldID {
			delete(s.counters, key)
			counter.ChatID = newID
			s.counters[memberKey{newID, key.userID}] = counter
		}
	}
	for key, job := range s.jobs {
		if key.chatID == oldID {
			delete(s.jobs, key)
			job.ChatID = newID
			s.jobs[deletedMessage{newID, key.messageID}] = job
		}
	}
	return nil
}

func (s *memStore) GetSpamCounter(_ context.Context, chatID, userID int64) (*db.SpamCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[memberKey{chatID, userID}]
	if !ok {
		return nil, nil
	}
	copied := *counter
	return &copied, nil
}

func (s *memStore) UpsertSpamCounter(_ context.Context, counter *db.SpamCounter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *counter
	s.counters[memberKey{counter.ChatID, counter.UserID}] = &copied
	return nil
}

func (s *memStore) DeleteSpamCounter(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, memberKey{chatID, userID})
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
	copied := *job
	s.jobs[deletedMessage{job.ChatID, job.MessageID}] = &copied
	return nil
}

func (s *memStore) RemoveDeleteJob(_ context.Context, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, deletedMessage{chatID, messageID})
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

func (s *memStore) GetDeleteJobs(context.Context) ([]*db.DeleteJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*db.DeleteJob
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs, nil
}
