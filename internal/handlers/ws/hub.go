package ws

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/noteduco342/OMChat-backend/internal/bus"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/metrics"
)

// writeWait bounds a single write so a stalled peer cannot hold the pump.
const writeWait = 10 * time.Second

// Conn is the part of a websocket connection the hub writes to. The hub
// never closes it: the connection belongs to the handler that read it,
// which must wait for Stopped before returning.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// PresenceMirror publishes this node's online users to the rest of the
// cluster.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID uint) error
	SetOffline(ctx context.Context, userID uint) error
	Refresh(ctx context.Context, userIDs []uint) error
	Leave(ctx context.Context) error
}

// Client is one websocket connection. A user may hold several.
type Client struct {
	ID           string
	UserID       uint
	SupportsGzip bool

	conn      Conn
	send      chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	pongMu   sync.Mutex
	lastPong time.Time
}

// Pong records a pong from the peer.
func (c *Client) Pong() {
	c.pongMu.Lock()
	c.lastPong = time.Now()
	c.pongMu.Unlock()
}

func (c *Client) sincePong(now time.Time) time.Duration {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	return now.Sub(c.lastPong)
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Stopped is closed once the write pump has returned and will not touch
// the connection again.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
}

type HubOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	PongTimeout  time.Duration
	// OnPresenceChange runs after a user's first connection opens or last
	// connection closes.
	OnPresenceChange func()
}

// Hub is this node's presence registry. It maps users to their live
// connections and group rooms to the connections that joined them.
type Hub struct {
	clients    map[uint]map[*Client]struct{}
	rooms      map[uint]map[*Client]struct{}
	clientsMux sync.RWMutex

	// presenceMu orders mirror writes so the last one matches the hub.
	presenceMu sync.Mutex
	presence   PresenceMirror
	opts       HubOptions
	closing    atomic.Bool
}

// NewHub builds a hub. A nil presence disables the cluster mirror.
func NewHub(presence PresenceMirror, opts HubOptions) *Hub {
	if presence == nil {
		presence = (*cache.PresenceCache)(nil)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 90 * time.Second
	}
	return &Hub{
		clients:  make(map[uint]map[*Client]struct{}),
		rooms:    make(map[uint]map[*Client]struct{}),
		presence: presence,
		opts:     opts,
	}
}

// SetPresenceHandler replaces OnPresenceChange. It must be called before
// the first Register.
func (h *Hub) SetPresenceHandler(fn func()) {
	h.opts.OnPresenceChange = fn
}

// Register adds a connection and starts its write pump.
func (h *Hub) Register(userID uint, conn Conn, supportsGzip bool) *Client {
	client := &Client{
		ID:           uuid.NewString(),
		UserID:       userID,
		SupportsGzip: supportsGzip,
		conn:         conn,
		send:         make(chan []byte, h.opts.SendBuffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		lastPong:     time.Now(),
	}

	h.clientsMux.Lock()
	conns, exists := h.clients[userID]
	if !exists {
		conns = make(map[*Client]struct{})
		h.clients[userID] = conns
	}
	conns[client] = struct{}{}
	count := len(h.clients)
	h.clientsMux.Unlock()

	metrics.ConnectedClients.Inc()
	go h.writePump(client)

	log.Printf("[hub] user %d connected (conn %s, users online: %d, gzip: %v)", userID, client.ID, count, supportsGzip)
	if !exists {
		metrics.OnlineUsers.Inc()
		h.syncPresence(userID)
		h.presenceChanged()
	}
	return client
}

// Unregister removes a connection from the hub and every room. It is safe
// to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.clientsMux.Lock()
	conns, exists := h.clients[client.UserID]
	if _, ok := conns[client]; !exists || !ok {
		h.clientsMux.Unlock()
		client.stop()
		return
	}
	delete(conns, client)
	last := len(conns) == 0
	if last {
		delete(h.clients, client.UserID)
	}
	for groupID, members := range h.rooms {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, groupID)
		}
	}
	count := len(h.clients)
	h.clientsMux.Unlock()

	client.stop()
	metrics.ConnectedClients.Dec()
	log.Printf("[hub] user %d disconnected (conn %s, users online: %d)", client.UserID, client.ID, count)

	if last {
		metrics.OnlineUsers.Dec()
		h.syncPresence(client.UserID)
		h.presenceChanged()
	}
}

// syncPresence writes the user's current state to the mirror. The state is
// read under presenceMu, so a connect and a disconnect racing for the same
// user always end with the mirror agreeing with the hub.
func (h *Hub) syncPresence(userID uint) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	ctx := context.Background()
	if h.IsOnline(userID) {
		if err := h.presence.SetOnline(ctx, userID); err != nil {
			log.Printf("[hub] presence mirror set online %d failed: %v", userID, err)
		}
		return
	}
	if err := h.presence.SetOffline(ctx, userID); err != nil {
		log.Printf("[hub] presence mirror set offline %d failed: %v", userID, err)
	}
}

func (c *Client) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (h *Hub) presenceChanged() {
	if h.opts.OnPresenceChange != nil && !h.closing.Load() {
		h.opts.OnPresenceChange()
	}
}

func (h *Hub) JoinRoom(client *Client, groupID uint) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	if _, ok := h.clients[client.UserID][client]; !ok {
		return
	}
	members, ok := h.rooms[groupID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[groupID] = members
	}
	members[client] = struct{}{}
}

func (h *Hub) LeaveRoom(client *Client, groupID uint) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	h.leaveRoomLocked(client, groupID)
}

func (h *Hub) leaveRoomLocked(client *Client, groupID uint) {
	members, ok := h.rooms[groupID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, groupID)
	}
}

// InRoom reports whether any connection of userID joined groupID.
func (h *Hub) InRoom(userID, groupID uint) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for c := range h.rooms[groupID] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// Deliver enqueues env.Frame on every matching connection and returns how
// many accepted it. It never blocks: a connection whose buffer is full is
// dropped.
func (h *Hub) Deliver(env bus.Envelope) int {
	h.clientsMux.RLock()
	targets := make(map[*Client]struct{})
	switch {
	case env.Broadcast:
		for _, conns := range h.clients {
			for c := range conns {
				targets[c] = struct{}{}
			}
		}
	default:
		for _, userID := range env.Recipients {
			for c := range h.clients[userID] {
				targets[c] = struct{}{}
			}
		}
		if env.Room != 0 {
			for c := range h.rooms[env.Room] {
				targets[c] = struct{}{}
			}
		}
	}
	h.clientsMux.RUnlock()

	delivered := 0
	var slow []*Client
	for c := range targets {
		if h.enqueue(c, env.Frame) {
			delivered++
			metrics.EventsDelivered.WithLabelValues(env.Type).Inc()
			continue
		}
		metrics.DeliveryFailures.WithLabelValues(env.Type).Inc()
		log.Printf("[hub] dropping %s for user %d: send buffer full, closing conn %s", env.Type, c.UserID, c.ID)
		slow = append(slow, c)
	}

	if env.LeaveRoom && env.Room != 0 && len(env.Recipients) > 0 {
		h.clientsMux.Lock()
		for _, userID := range env.Recipients {
			for c := range h.clients[userID] {
				h.leaveRoomLocked(c, env.Room)
			}
		}
		h.clientsMux.Unlock()
	}

	for _, c := range slow {
		h.Unregister(c)
	}
	return delivered
}

// Send enqueues a frame for a single connection, e.g. a reply to a client
// request.
func (h *Hub) Send(client *Client, frame []byte) bool {
	if h.enqueue(client, frame) {
		return true
	}
	log.Printf("[hub] reply to user %d dropped, closing conn %s", client.UserID, client.ID)
	h.Unregister(client)
	return false
}

func (h *Hub) enqueue(c *Client, frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) IsOnline(userID uint) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients[userID]) > 0
}

// OnlineUsers returns the users connected to this node, sorted.
func (h *Hub) OnlineUsers() []uint {
	h.clientsMux.RLock()
	users := make([]uint, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	h.clientsMux.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Run evicts connections that stopped answering pings and keeps this node's
// presence mirror entry alive, until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkHealth(time.Now())
			h.refreshPresence(ctx)
		}
	}
}

func (h *Hub) refreshPresence(ctx context.Context) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	if err := h.presence.Refresh(ctx, h.OnlineUsers()); err != nil {
		log.Printf("[hub] presence mirror refresh failed: %v", err)
	}
}

func (h *Hub) checkHealth(now time.Time) int {
	h.clientsMux.RLock()
	var dead []*Client
	for _, conns := range h.clients {
		for c := range conns {
			if c.sincePong(now) > h.opts.PongTimeout {
				dead = append(dead, c)
			}
		}
	}
	h.clientsMux.RUnlock()

	for _, c := range dead {
		log.Printf("[hub] removing dead connection %s for user %d (no pong received)", c.ID, c.UserID)
		h.Unregister(c)
	}
	return len(dead)
}

// Close drops every connection and removes this node from the presence
// mirror.
func (h *Hub) Close(ctx context.Context) {
	h.clientsMux.RLock()
	var all []*Client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clientsMux.RUnlock()

	h.closing.Store(true)
	for _, c := range all {
		h.Unregister(c)
	}
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	if err := h.presence.Leave(ctx); err != nil {
		log.Printf("[hub] presence mirror leave failed: %v", err)
	}
}

// writePump is the only writer of a connection's data frames. On exit it
// sends a close frame and expires the read deadline so the owning handler's
// read loop returns, then closes stopped.
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.SetReadDeadline(time.Now())
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			frameType, data := websocket.TextMessage, frame
			if c.SupportsGzip && len(frame) > 512 {
				if compressed, err := compressData(frame); err == nil && len(compressed) < len(frame) {
					frameType, data = websocket.BinaryMessage, compressed
				}
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				log.Printf("[hub] write to user %d failed: %v", c.UserID, err)
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				log.Printf("[hub] ping to user %d failed: %v", c.UserID, err)
				h.Unregister(c)
				return
			}
		}
	}
}

func compressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)

	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressMessage inflates a gzip-compressed binary frame from a client.
func DecompressMessage(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(io.LimitReader(reader, 1<<20))
}
