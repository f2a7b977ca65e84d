package service

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/models"
)

// Directory is the live-connection registry of one node.
type Directory interface {
	// Deliver enqueues env.Frame on every matching local connection without
	// blocking and returns how many connections accepted it.
	Deliver(env bus.Envelope) int
	IsOnline(userID uint) bool
	OnlineUsers() []uint
}

// ReadUpdate is one reconciled read batch, grouped by the author of each message.
type ReadUpdate struct {
	Conversation     models.ConversationKey
	Reader           uint
	ReadAt           time.Time
	MessagesBySender map[uint][]uint
}

// DeliveryRouter turns state changes into pushes. Every push goes through the
// bus and comes back to each node's Directory, so delivery is best effort and
// never fails the operation that caused it.
type DeliveryRouter struct {
	dir      Directory
	bus      bus.Bus
	counter  *cache.UnreadCounter
	presence *cache.PresenceCache
}

func NewDeliveryRouter(dir Directory, b bus.Bus, counter *cache.UnreadCounter, presence *cache.PresenceCache) *DeliveryRouter {
	return &DeliveryRouter{dir: dir, bus: b, counter: counter, presence: presence}
}

// Start subscribes the local Directory to the bus.
func (r *DeliveryRouter) Start(ctx context.Context) error {
	return r.bus.Subscribe(ctx, func(env bus.Envelope) {
		r.dir.Deliver(env)
	})
}

// DeliverMessage pushes msg to the resolved recipients and bumps their unread
// counters. Counters move whether or not the recipient is connected.
func (r *DeliveryRouter) DeliverMessage(ctx context.Context, msg *models.Message, res Resolution) {
	var (
		eventType string
		payload   interface{}
	)
	if res.Conversation.IsGroup {
		eventType = EventNewGroupMessage
		payload = GroupMessageEvent{GroupID: res.Conversation.ID, Message: msg.ToResponse()}
	} else {
		eventType = EventNewMessage
		payload = msg.ToResponse()
	}

	for _, recipient := range res.Recipients {
		r.counter.Increment(ctx, recipient, msg.ConversationFor(recipient))
	}

	if len(res.Recipients) > 0 {
		r.publish(ctx, bus.Envelope{Type: eventType, Recipients: res.Recipients}, payload)
	}
}

// DeliverReadUpdate tells each original sender which of their messages were
// read. The reader is never notified.
func (r *DeliveryRouter) DeliverReadUpdate(ctx context.Context, upd ReadUpdate) {
	conversationID := upd.Reader
	if upd.Conversation.IsGroup {
		conversationID = upd.Conversation.ID
	}

	for _, sender := range sortedKeys(upd.MessagesBySender) {
		if sender == upd.Reader {
			continue
		}
		r.publish(ctx, bus.Envelope{Type: EventReadUpdate, Recipients: []uint{sender}}, ReadUpdateEvent{
			MessageIDs:     upd.MessagesBySender[sender],
			ReadBy:         upd.Reader,
			ReadAt:         upd.ReadAt,
			ConversationID: conversationID,
			IsGroup:        upd.Conversation.IsGroup,
		})
	}
}

// BroadcastPresence pushes the online list to every connection in the cluster.
func (r *DeliveryRouter) BroadcastPresence(ctx context.Context) {
	r.publish(ctx, bus.Envelope{Type: EventOnlineUsers, Broadcast: true}, OnlineUsersEvent{UserIDs: r.OnlineUsers(ctx)})
}

// DeliverGroupEvent pushes a group-level event to the group's room and to
// users, deduplicated per connection. With leave set, those users also leave
// the room afterwards.
func (r *DeliveryRouter) DeliverGroupEvent(ctx context.Context, groupID uint, eventType string, payload interface{}, users []uint, leave bool) {
	r.publish(ctx, bus.Envelope{
		Type:       eventType,
		Room:       groupID,
		Recipients: users,
		LeaveRoom:  leave,
	}, payload)
}

// OnlineUsers prefers the cluster-wide mirror and falls back to this node.
func (r *DeliveryRouter) OnlineUsers(ctx context.Context) []uint {
	ids, err := r.presence.OnlineUsers(ctx)
	if err != nil {
		log.Printf("[delivery] presence mirror unavailable: %v", err)
	}
	if err == nil && ids != nil {
		return ids
	}
	ids = r.dir.OnlineUsers()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *DeliveryRouter) IsOnline(ctx context.Context, userID uint) bool {
	if r.dir.IsOnline(userID) {
		return true
	}
	for _, id := range r.OnlineUsers(ctx) {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *DeliveryRouter) publish(ctx context.Context, env bus.Envelope, payload interface{}) {
	data, err := EncodeEvent(env.Type, payload)
	if err != nil {
		log.Printf("[delivery] failed to encode %s: %v", env.Type, err)
		return
	}
	env.Frame = data
	if err := r.bus.Publish(ctx, env); err != nil {
		log.Printf("[delivery] failed to publish %s: %v", env.Type, err)
	}
}

func sortedKeys(m map[uint][]uint) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
