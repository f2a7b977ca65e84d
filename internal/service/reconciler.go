package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/metrics"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/repository"
	"github.com/noteduco342/OMChat-backend/internal/validation"
)

// UnreadMode selects how a read settles the reader's unread counter.
type UnreadMode string

const (
	// UnreadReset zeroes the counter on every read. A client that marks only
	// part of the unread messages leaves the counter lower than the store
	// until the next recompute.
	UnreadReset UnreadMode = "reset"
	// UnreadRecount sets the counter to the store's count after the read.
	UnreadRecount UnreadMode = "recount"
)

func ParseUnreadMode(s string) (UnreadMode, error) {
	switch UnreadMode(s) {
	case "", UnreadReset:
		return UnreadReset, nil
	case UnreadRecount:
		return UnreadRecount, nil
	}
	return "", fmt.Errorf("unknown unread mode %q", s)
}

type ReadRequest struct {
	Reader       uint
	Conversation models.ConversationKey
	MessageIDs   []uint
}

type ReadResult struct {
	// Marked holds the ids that gained a read marker in this call.
	Marked []uint `json:"marked"`
	// Notified holds the senders told about the read.
	Notified []uint    `json:"notified"`
	ReadAt   time.Time `json:"readAt"`
}

// ReadReconciler is the single path every read takes, whether the client
// marks ids itself or the server collects them when a chat is opened.
type ReadReconciler struct {
	messages  repository.MessageRepositoryInterface
	resolver  *ConversationResolver
	router    *DeliveryRouter
	counter   *cache.UnreadCounter
	convCache *cache.ConversationCache
	mode      UnreadMode
	openBatch int
	now       func() time.Time
}

type ReconcilerOptions struct {
	Mode      UnreadMode
	OpenBatch int
}

func NewReadReconciler(
	messages repository.MessageRepositoryInterface,
	resolver *ConversationResolver,
	router *DeliveryRouter,
	counter *cache.UnreadCounter,
	convCache *cache.ConversationCache,
	opts ReconcilerOptions,
) *ReadReconciler {
	if opts.Mode == "" {
		opts.Mode = UnreadReset
	}
	if opts.OpenBatch <= 0 {
		opts.OpenBatch = 50
	}
	return &ReadReconciler{
		messages:  messages,
		resolver:  resolver,
		router:    router,
		counter:   counter,
		convCache: convCache,
		mode:      opts.Mode,
		openBatch: opts.OpenBatch,
		now:       time.Now,
	}
}

func (r *ReadReconciler) Mode() UnreadMode {
	return r.mode
}

// Reconcile marks req.MessageIDs read by req.Reader, settles the reader's
// counter and notifies the original senders. Messages the reader wrote are
// accepted and ignored.
func (r *ReadReconciler) Reconcile(ctx context.Context, req ReadRequest) (ReadResult, error) {
	ids := validation.UniqueIDs(req.MessageIDs)
	if len(ids) == 0 {
		return ReadResult{}, apperr.Validation("messageIds must not be empty")
	}
	if err := r.resolver.Authorize(ctx, req.Conversation, req.Reader); err != nil {
		return ReadResult{}, err
	}

	msgs, err := r.messages.FindByIDs(ctx, ids)
	if err != nil {
		return ReadResult{}, apperr.Store("failed to load messages", err)
	}
	if len(msgs) != len(ids) {
		return ReadResult{}, apperr.Validation("unknown message id")
	}

	bySender := make(map[uint][]uint)
	toMark := make([]uint, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if !req.Conversation.Contains(m, req.Reader) {
			return ReadResult{}, apperr.Validation(fmt.Sprintf("message %d is not in this conversation", m.ID))
		}
		if m.SenderID == req.Reader {
			continue
		}
		toMark = append(toMark, m.ID)
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
	}

	readAt := r.now().UTC()
	result := ReadResult{Marked: []uint{}, Notified: []uint{}, ReadAt: readAt}
	if len(toMark) == 0 {
		return result, nil
	}

	snap := r.counter.Snapshot(ctx, req.Reader, req.Conversation)
	marked, err := r.messages.MarkRead(ctx, toMark, req.Reader, readAt)
	if err != nil {
		return ReadResult{}, apperr.Store("failed to mark messages as read", err)
	}
	result.Marked = marked
	metrics.MessagesMarkedRead.Add(float64(len(marked)))

	r.settle(ctx, req, snap)
	if err := r.convCache.Invalidate(ctx, req.Reader, req.Conversation); err != nil {
		log.Printf("[read] cache invalidate %s failed: %v", req.Conversation, err)
	}

	r.router.DeliverReadUpdate(ctx, ReadUpdate{
		Conversation:     req.Conversation,
		Reader:           req.Reader,
		ReadAt:           readAt,
		MessagesBySender: bySender,
	})
	result.Notified = sortedKeys(bySender)
	return result, nil
}

// OpenConversation reconciles the newest unread messages of a chat the
// reader just opened. It is a no-op when nothing is unread.
func (r *ReadReconciler) OpenConversation(ctx context.Context, reader uint, key models.ConversationKey) (ReadResult, error) {
	if err := r.resolver.Authorize(ctx, key, reader); err != nil {
		return ReadResult{}, err
	}
	unread, err := r.messages.FindUnread(ctx, reader, key, r.openBatch)
	if err != nil {
		return ReadResult{}, apperr.Store("failed to load unread messages", err)
	}
	if len(unread) == 0 {
		return ReadResult{Marked: []uint{}, Notified: []uint{}, ReadAt: r.now().UTC()}, nil
	}

	ids := make([]uint, len(unread))
	for i := range unread {
		ids[i] = unread[i].ID
	}
	return r.Reconcile(ctx, ReadRequest{Reader: reader, Conversation: key, MessageIDs: ids})
}

func (r *ReadReconciler) settle(ctx context.Context, req ReadRequest, snap cache.Snapshot) {
	switch r.mode {
	case UnreadRecount:
		count, err := r.messages.CountUnread(ctx, req.Reader, req.Conversation)
		if err != nil {
			log.Printf("[read] recount %d/%s failed, counter left for resync: %v", req.Reader, req.Conversation, err)
			return
		}
		r.counter.Settle(ctx, req.Reader, req.Conversation, snap, count)
	default:
		r.counter.Reset(ctx, req.Reader, req.Conversation, snap)
	}
}
