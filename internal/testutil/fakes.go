package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/storage"
)

// FakeUserRepository is an in-memory repository.UserRepositoryInterface.
type FakeUserRepository struct {
	mu     sync.RWMutex
	users  map[uint]models.User
	nextID uint
}

func NewFakeUserRepository() *FakeUserRepository {
	return &FakeUserRepository{users: make(map[uint]models.User), nextID: 1}
}

// Add stores users with the given ids and usernames user<id>.
func (r *FakeUserRepository) Add(ids ...uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.users[id] = models.User{ID: id, Username: fmt.Sprintf("user%d", id), FullName: fmt.Sprintf("User %d", id)}
		if id >= r.nextID {
			r.nextID = id + 1
		}
	}
}

func (r *FakeUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.nextID
	}
	if user.ID >= r.nextID {
		r.nextID = user.ID + 1
	}
	r.users[user.ID] = *user
	return nil
}

func (r *FakeUserRepository) FindByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &u, nil
}

func (r *FakeUserRepository) FindByIDs(_ context.Context, ids []uint) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *FakeUserRepository) ListExcept(_ context.Context, userID uint) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.User{}
	for id, u := range r.users {
		if id != userID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FakeUserRepository) get(id uint) models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u
	}
	return models.User{ID: id}
}

// FakeMessageRepository is an in-memory repository.MessageRepositoryInterface.
// Set the Err fields to make the matching call fail.
type FakeMessageRepository struct {
	mu       sync.RWMutex
	messages map[uint]models.Message
	reads    map[uint]map[uint]time.Time
	nextID   uint
	clock    time.Time
	users    *FakeUserRepository

	CreateErr   error
	MarkReadErr error
	CountErr    error

	MarkReadCalls int
}

// NewFakeMessageRepository takes an optional user repository used to fill in senders.
func NewFakeMessageRepository(users *FakeUserRepository) *FakeMessageRepository {
	return &FakeMessageRepository{
		messages: make(map[uint]models.Message),
		reads:    make(map[uint]map[uint]time.Time),
		nextID:   1,
		clock:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		users:    users,
	}
}

func (r *FakeMessageRepository) Create(_ context.Context, message *models.Message) error {
	if err := message.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}

	message.ID = r.nextID
	r.nextID++
	if message.CreatedAt.IsZero() {
		r.clock = r.clock.Add(time.Second)
		message.CreatedAt = r.clock
	}
	message.UpdatedAt = message.CreatedAt

	stored := *message
	stored.Sender = models.User{}
	stored.ReplyTo = nil
	stored.ReadBy = nil
	r.messages[stored.ID] = stored
	return nil
}

func (r *FakeMessageRepository) FindByID(_ context.Context, id uint) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, apperr.NotFound("message not found")
	}
	full := r.hydrate(m, true)
	return &full, nil
}

func (r *FakeMessageRepository) FindByIDs(_ context.Context, ids []uint) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Message{}
	for _, id := range ids {
		if m, ok := r.messages[id]; ok {
			out = append(out, r.hydrate(m, false))
		}
	}
	return out, nil
}

func (r *FakeMessageRepository) FindConversation(_ context.Context, reader uint, key models.ConversationKey) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Message{}
	for _, m := range r.sorted() {
		if key.Contains(&m, reader) {
			out = append(out, r.hydrate(m, true))
		}
	}
	return out, nil
}

func (r *FakeMessageRepository) FindUnread(_ context.Context, reader uint, key models.ConversationKey, limit int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unread := r.unread(reader, key)
	if limit > 0 && len(unread) > limit {
		unread = unread[len(unread)-limit:]
	}
	out := make([]models.Message, 0, len(unread))
	for _, m := range unread {
		out = append(out, r.hydrate(m, false))
	}
	return out, nil
}

func (r *FakeMessageRepository) CountUnread(_ context.Context, reader uint, key models.ConversationKey) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.CountErr != nil {
		return 0, r.CountErr
	}
	return int64(len(r.unread(reader, key))), nil
}

func (r *FakeMessageRepository) MarkRead(_ context.Context, ids []uint, reader uint, readAt time.Time) ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MarkReadCalls++
	if r.MarkReadErr != nil {
		return nil, r.MarkReadErr
	}

	mutated := []uint{}
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok || m.SenderID == reader {
			continue
		}
		if r.reads[id] == nil {
			r.reads[id] = make(map[uint]time.Time)
		}
		if _, done := r.reads[id][reader]; done {
			continue
		}
		r.reads[id][reader] = readAt
		mutated = append(mutated, id)
	}
	return mutated, nil
}

// ReadersOf returns who has read message id, sorted.
func (r *FakeMessageRepository) ReadersOf(id uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []uint{}
	for user := range r.reads[id] {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeleteGroup drops a group's messages and their read markers.
func (r *FakeMessageRepository) DeleteGroup(groupID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.messages {
		if m.GroupID != nil && *m.GroupID == groupID {
			delete(r.messages, id)
			delete(r.reads, id)
		}
	}
}

func (r *FakeMessageRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

func (r *FakeMessageRepository) sorted() []models.Message {
	out := make([]models.Message, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *FakeMessageRepository) unread(reader uint, key models.ConversationKey) []models.Message {
	out := []models.Message{}
	for _, m := range r.sorted() {
		if m.SenderID == reader || !key.Contains(&m, reader) {
			continue
		}
		if _, read := r.reads[m.ID][reader]; read {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (r *FakeMessageRepository) hydrate(m models.Message, withReply bool) models.Message {
	if r.users != nil {
		m.Sender = r.users.get(m.SenderID)
	}
	m.ReadBy = nil
	for user, at := range r.reads[m.ID] {
		m.ReadBy = append(m.ReadBy, models.MessageRead{MessageID: m.ID, UserID: user, ReadAt: at})
	}
	sort.Slice(m.ReadBy, func(i, j int) bool { return m.ReadBy[i].UserID < m.ReadBy[j].UserID })
	if withReply && m.ReplyToID != nil {
		if parent, ok := r.messages[*m.ReplyToID]; ok {
			p := r.hydrate(parent, false)
			m.ReplyTo = &p
		}
	}
	return m
}

// FakeGroupRepository is an in-memory repository.GroupRepositoryInterface.
type FakeGroupRepository struct {
	mu       sync.RWMutex
	groups   map[uint]models.Group
	members  map[uint][]uint
	nextID   uint
	clock    time.Time
	users    *FakeUserRepository
	messages *FakeMessageRepository
}

// NewFakeGroupRepository takes optional user and message fakes for member
// hydration and delete cascades.
func NewFakeGroupRepository(users *FakeUserRepository, messages *FakeMessageRepository) *FakeGroupRepository {
	return &FakeGroupRepository{
		groups:   make(map[uint]models.Group),
		members:  make(map[uint][]uint),
		nextID:   1,
		clock:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		users:    users,
		messages: messages,
	}
}

func (r *FakeGroupRepository) Create(_ context.Context, group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	group.ID = r.nextID
	r.nextID++
	now := r.tick()
	group.CreatedAt, group.UpdatedAt = now, now

	stored := *group
	stored.Members = nil
	r.groups[group.ID] = stored
	r.members[group.ID] = appendUnique(nil, group.MemberIDs()...)
	return nil
}

func (r *FakeGroupRepository) FindByID(_ context.Context, id uint) (*models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, apperr.NotFound("group not found")
	}
	full := r.hydrate(g)
	return &full, nil
}

func (r *FakeGroupRepository) ListForUser(_ context.Context, userID uint) ([]models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []models.Group{}
	for id, g := range r.groups {
		if contains(r.members[id], userID) {
			out = append(out, r.hydrate(g))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *FakeGroupRepository) IsMember(_ context.Context, groupID, userID uint) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return contains(r.members[groupID], userID), nil
}

func (r *FakeGroupRepository) MemberIDs(_ context.Context, groupID uint) ([]uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint(nil), r.members[groupID]...), nil
}

func (r *FakeGroupRepository) AddMembers(_ context.Context, groupID uint, userIDs []uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return apperr.NotFound("group not found")
	}
	r.members[groupID] = appendUnique(r.members[groupID], userIDs...)
	r.touch(groupID)
	return nil
}

func (r *FakeGroupRepository) RemoveMember(_ context.Context, groupID, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.members[groupID][:0]
	for _, id := range r.members[groupID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	r.members[groupID] = kept
	r.touch(groupID)
	return nil
}

func (r *FakeGroupRepository) Update(_ context.Context, group *models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[group.ID]
	if !ok {
		return apperr.NotFound("group not found")
	}
	g.Name, g.Description, g.GroupPic = group.Name, group.Description, group.GroupPic
	r.groups[group.ID] = g
	r.touch(group.ID)
	return nil
}

func (r *FakeGroupRepository) DeleteCascade(_ context.Context, groupID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return apperr.NotFound("group not found")
	}
	delete(r.groups, groupID)
	delete(r.members, groupID)
	if r.messages != nil {
		r.messages.DeleteGroup(groupID)
	}
	return nil
}

func (r *FakeGroupRepository) touch(groupID uint) {
	g := r.groups[groupID]
	g.UpdatedAt = r.tick()
	r.groups[groupID] = g
}

// tick returns a strictly increasing timestamp so update order is stable.
func (r *FakeGroupRepository) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *FakeGroupRepository) hydrate(g models.Group) models.Group {
	g.Members = nil
	for _, id := range r.members[g.ID] {
		member := models.GroupMember{GroupID: g.ID, UserID: id}
		if r.users != nil {
			member.User = r.users.get(id)
		}
		g.Members = append(g.Members, member)
	}
	if r.users != nil {
		g.Admin = r.users.get(g.AdminID)
	}
	return g
}

// FakeBlobStore is an in-memory storage.BlobStore.
type FakeBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Deleted []string
	Err     error
	seq     int
}

func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{Objects: make(map[string][]byte)}
}

func (s *FakeBlobStore) Upload(_ context.Context, folder, name, contentType string, body io.Reader, size int64) (storage.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return storage.Blob{}, s.Err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return storage.Blob{}, err
	}
	s.seq++
	key := fmt.Sprintf("%s/%d-%s", folder, s.seq, name)
	s.Objects[key] = buf.Bytes()
	return storage.Blob{
		Key:         key,
		URL:         "https://cdn.test/" + key,
		ContentType: contentType,
		Size:        int64(buf.Len()),
	}, nil
}

func (s *FakeBlobStore) Open(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.Objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), storage.ObjectInfo{
		Size:         int64(len(data)),
		ETag:         fmt.Sprintf("etag-%d", len(data)),
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *FakeBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Objects, key)
	s.Deleted = append(s.Deleted, key)
	return nil
}

// RecordingDirectory stands in for the websocket hub. It records every
// envelope and resolves who would have received it.
type RecordingDirectory struct {
	mu        sync.Mutex
	online    map[uint]bool
	rooms     map[uint]map[uint]bool
	Envelopes []bus.Envelope
	received  map[uint][]bus.Envelope
}

func NewRecordingDirectory(online ...uint) *RecordingDirectory {
	d := &RecordingDirectory{
		online:   make(map[uint]bool),
		rooms:    make(map[uint]map[uint]bool),
		received: make(map[uint][]bus.Envelope),
	}
	for _, id := range online {
		d.online[id] = true
	}
	return d
}

func (d *RecordingDirectory) SetOnline(userID uint, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[userID] = online
}

func (d *RecordingDirectory) JoinRoom(userID, groupID uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[groupID] == nil {
		d.rooms[groupID] = make(map[uint]bool)
	}
	d.rooms[groupID][userID] = true
}

func (d *RecordingDirectory) Deliver(env bus.Envelope) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Envelopes = append(d.Envelopes, env)

	targets := make(map[uint]bool)
	switch {
	case env.Broadcast:
		for id, on := range d.online {
			if on {
				targets[id] = true
			}
		}
	default:
		for _, id := range env.Recipients {
			if d.online[id] {
				targets[id] = true
			}
		}
		if env.Room != 0 {
			for id := range d.rooms[env.Room] {
				if d.online[id] {
					targets[id] = true
				}
			}
		}
	}
	for id := range targets {
		d.received[id] = append(d.received[id], env)
	}
	if env.LeaveRoom {
		for _, id := range env.Recipients {
			delete(d.rooms[env.Room], id)
		}
	}
	return len(targets)
}

func (d *RecordingDirectory) IsOnline(userID uint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[userID]
}

func (d *RecordingDirectory) OnlineUsers() []uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []uint{}
	for id, on := range d.online {
		if on {
			out = append(out, id)
		}
	}
	return out
}

// Received returns the envelopes delivered to userID, oldest first.
func (d *RecordingDirectory) Received(userID uint) []bus.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bus.Envelope(nil), d.received[userID]...)
}

// ReceivedTypes returns the event types delivered to userID.
func (d *RecordingDirectory) ReceivedTypes(userID uint) []string {
	envs := d.Received(userID)
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Type
	}
	return out
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func appendUnique(ids []uint, more ...uint) []uint {
	for _, id := range more {
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}
