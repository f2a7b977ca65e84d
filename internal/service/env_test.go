package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/testutil"
)

const (
	alice uint = 1
	bob   uint = 2
	carol uint = 3
	dave  uint = 4
)

// testEnv wires the services against in-memory stores and a local bus, the
// same way main does against Postgres and Redis.
type testEnv struct {
	ctx        context.Context
	users      *testutil.FakeUserRepository
	messages   *testutil.FakeMessageRepository
	groups     *testutil.FakeGroupRepository
	blobs      *testutil.FakeBlobStore
	dir        *testutil.RecordingDirectory
	counter    *cache.UnreadCounter
	resolver   *ConversationResolver
	router     *DeliveryRouter
	reconciler *ReadReconciler
	messageSvc *MessageService
	groupSvc   *GroupService
}

func newTestEnv(t *testing.T, mode UnreadMode) *testEnv {
	t.Helper()
	ctx := context.Background()

	users := testutil.NewFakeUserRepository()
	users.Add(alice, bob, carol, dave)
	messages := testutil.NewFakeMessageRepository(users)
	groups := testutil.NewFakeGroupRepository(users, messages)
	blobs := testutil.NewFakeBlobStore()
	dir := testutil.NewRecordingDirectory(alice, bob, carol, dave)

	counter := cache.NewUnreadCounter(cache.NewMemoryUnreadBackend())
	convCache := cache.NewConversationCache(nil)
	b := bus.NewLocal()
	t.Cleanup(func() { _ = b.Close() })

	router := NewDeliveryRouter(dir, b, counter, nil)
	require.NoError(t, router.Start(ctx))

	resolver := NewConversationResolver(users, groups)
	attachments := NewAttachmentService(blobs)

	return &testEnv{
		ctx:        ctx,
		users:      users,
		messages:   messages,
		groups:     groups,
		blobs:      blobs,
		dir:        dir,
		counter:    counter,
		resolver:   resolver,
		router:     router,
		reconciler: NewReadReconciler(messages, resolver, router, counter, convCache, ReconcilerOptions{Mode: mode}),
		messageSvc: NewMessageService(messages, users, resolver, router, counter, convCache, attachments, 0),
		groupSvc:   NewGroupService(groups, users, messages, router, counter, convCache, attachments),
	}
}

func (e *testEnv) sendDirect(t *testing.T, from, to uint, text string) uint {
	t.Helper()
	msg, err := e.messageSvc.Send(e.ctx, from, SendMessageInput{Target: models.DirectTarget(to), Text: text})
	require.NoError(t, err)
	return msg.ID
}

func (e *testEnv) sendGroup(t *testing.T, from, groupID uint, text string) uint {
	t.Helper()
	msg, err := e.messageSvc.Send(e.ctx, from, SendMessageInput{Target: models.GroupTarget(groupID), Text: text})
	require.NoError(t, err)
	return msg.ID
}

func (e *testEnv) createGroup(t *testing.T, admin uint, members ...uint) uint {
	t.Helper()
	group, err := e.groupSvc.Create(e.ctx, admin, CreateGroupInput{Name: "team", Members: members})
	require.NoError(t, err)
	return group.ID
}

type decodedFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeFrame(t *testing.T, env bus.Envelope) decodedFrame {
	t.Helper()
	var f decodedFrame
	require.NoError(t, json.Unmarshal(env.Frame, &f))
	return f
}

// framesOf returns the frames of the given type userID received.
func (e *testEnv) framesOf(t *testing.T, userID uint, eventType string) []decodedFrame {
	t.Helper()
	var out []decodedFrame
	for _, env := range e.dir.Received(userID) {
		if env.Type == eventType {
			out = append(out, decodeFrame(t, env))
		}
	}
	return out
}
