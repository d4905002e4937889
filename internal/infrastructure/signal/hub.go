package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/internal/core/services"
	"coursehub/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message is the envelope for every frame exchanged with a client.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	MessageJoinGroup  = "join_group"
	MessageLeaveGroup = "leave_group"
	MessageConnected  = "connected"
	MessageChat       = "chat"
	MessagePing       = "ping"
	MessagePong       = "pong"
	MessageError      = "error"
)

// CourseSource lists the courses a user belongs to. Used to seed group
// subscriptions when a connection opens.
type CourseSource interface {
	ListCourses(ctx context.Context, actor domain.UserID) ([]*domain.Course, error)
}

// PresenceTracker records which users hold live connections on this instance.
type PresenceTracker interface {
	Register(ctx context.Context, userID domain.UserID) error
	Unregister(ctx context.Context, userID domain.UserID) error
}

// ConnectionObserver receives the live connection count after every change.
type ConnectionObserver interface {
	SetLiveConnections(n int)
}

type HubConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SeedTimeout    time.Duration
	AllowedOrigins []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
		SeedTimeout:    5 * time.Second,
	}
}

type client struct {
	userID domain.UserID
	conn   *websocket.Conn

	writeMu sync.Mutex

	// Guarded by Hub.mu. While seeding, leaves for groups the client is not
	// yet in are kept as tombstones so the seed cannot resubscribe them.
	groups   map[string]struct{}
	seeding  bool
	leftSeed map[string]struct{}
}

func (c *client) write(timeout time.Duration, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Hub owns the live connection map. Connections are added and removed only by
// their own connect/disconnect lifecycle; group membership changes only
// through Join and Leave.
type Hub struct {
	cfg      HubConfig
	auth     services.AuthService
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[domain.UserID]map[*client]struct{}
	groups  map[string]map[*client]struct{}

	courses  CourseSource
	presence PresenceTracker
	observer ConnectionObserver

	logger *zap.SugaredLogger
}

func NewHub(cfg HubConfig, auth services.AuthService, logger *zap.SugaredLogger) *Hub {
	h := &Hub{
		cfg:     cfg,
		auth:    auth,
		clients: make(map[domain.UserID]map[*client]struct{}),
		groups:  make(map[string]map[*client]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) SetCourseSource(src CourseSource) { h.courses = src }

func (h *Hub) SetPresenceTracker(p PresenceTracker) { h.presence = p }

func (h *Hub) SetConnectionObserver(o ConnectionObserver) { h.observer = o }

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Join subscribes every live connection of userID to group and tells each of
// them about it. It returns the number of connections affected; zero means the
// user is offline here, which is not an error.
func (h *Hub) Join(userID domain.UserID, group string) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		if c.seeding {
			delete(c.leftSeed, group)
		}
		if _, already := c.groups[group]; already {
			continue
		}
		c.groups[group] = struct{}{}
		if h.groups[group] == nil {
			h.groups[group] = make(map[*client]struct{})
		}
		h.groups[group][c] = struct{}{}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.sendAll(targets, Message{Type: MessageJoinGroup, Channel: group})
	return len(targets)
}

// Leave is the inverse of Join. A connection still loading its initial
// subscriptions remembers the leave and counts as affected.
func (h *Hub) Leave(userID domain.UserID, group string) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[userID]))
	pending := 0
	for c := range h.clients[userID] {
		if c.seeding {
			c.leftSeed[group] = struct{}{}
		}
		if _, member := c.groups[group]; !member {
			if c.seeding {
				pending++
			}
			continue
		}
		h.removeFromGroupLocked(c, group)
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.sendAll(targets, Message{Type: MessageLeaveGroup, Channel: group})
	return len(targets) + pending
}

// Broadcast sends message to every connection subscribed to group.
func (h *Hub) Broadcast(group string, message interface{}) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.groups[group]))
	for c := range h.groups[group] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.sendAll(targets, message)
}

// Groups returns the groups userID's connections are subscribed to.
func (h *Hub) Groups(userID domain.UserID) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	for c := range h.clients[userID] {
		for g := range c.groups {
			seen[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	return out
}

func (h *Hub) IsConnected(userID domain.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// HandleWebSocket authenticates the token query parameter (or bearer header),
// upgrades the connection and serves it until the peer goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	c := &client{userID: claims.UserID, conn: conn, groups: make(map[string]struct{})}
	if h.courses != nil {
		c.seeding = true
		c.leftSeed = make(map[string]struct{})
	}
	h.register(c)
	defer h.unregister(c)

	h.seedGroups(r.Context(), c)
	h.sendAll([]*client{c}, Message{Type: MessageConnected})

	h.serve(c)
}

func (h *Hub) serve(c *client) {
	conn := c.conn
	conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(c, done)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))

		if err := h.handleMessage(c, msg); err != nil {
			payload, _ := json.Marshal(map[string]string{"message": err.Error()})
			h.sendAll([]*client{c}, Message{Type: MessageError, Payload: payload})
		}
	}
}

func (h *Hub) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(h.cfg.WriteTimeout, websocket.PingMessage, nil); err != nil {
				h.logger.Debugw("ping failed", "user_id", c.userID, "error", err)
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (h *Hub) handleMessage(c *client, msg Message) error {
	_, span := tracing.TraceWebSocketMessage(context.Background(), msg.Type, string(c.userID))
	defer span.End()

	switch msg.Type {
	case MessagePing:
		h.sendAll([]*client{c}, Message{Type: MessagePong})
		return nil
	case MessageChat:
		if msg.Channel == "" {
			return fmt.Errorf("channel is required")
		}
		h.mu.RLock()
		_, subscribed := c.groups[msg.Channel]
		h.mu.RUnlock()
		if !subscribed {
			return fmt.Errorf("not subscribed to %s", msg.Channel)
		}
		h.Broadcast(msg.Channel, map[string]interface{}{
			"type":    MessageChat,
			"channel": msg.Channel,
			"from":    c.userID,
			"payload": msg.Payload,
		})
		return nil
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// seedGroups subscribes c to the courses its user belongs to. Leaves applied
// to c after the course list was read win over the list.
func (h *Hub) seedGroups(ctx context.Context, c *client) {
	if h.courses == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.SeedTimeout)
	defer cancel()

	courses, err := h.courses.ListCourses(ctx, c.userID)
	if err != nil {
		h.logger.Warnw("failed to seed group subscriptions", "user_id", c.userID, "error", err)
		courses = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, course := range courses {
		group := domain.ChannelName(course.ID)
		if _, left := c.leftSeed[group]; left {
			continue
		}
		c.groups[group] = struct{}{}
		if h.groups[group] == nil {
			h.groups[group] = make(map[*client]struct{})
		}
		h.groups[group][c] = struct{}{}
	}
	c.seeding = false
	c.leftSeed = nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	first := len(h.clients[c.userID]) == 1
	h.mu.Unlock()

	h.logger.Infow("client connected", "user_id", c.userID)
	h.reportConnections()

	if first && h.presence != nil {
		if err := h.presence.Register(context.Background(), c.userID); err != nil {
			h.logger.Warnw("failed to register presence", "user_id", c.userID, "error", err)
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	for g := range c.groups {
		h.removeFromGroupLocked(c, g)
	}
	last := false
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
			last = true
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
	h.logger.Infow("client disconnected", "user_id", c.userID)
	h.reportConnections()

	if last && h.presence != nil {
		if err := h.presence.Unregister(context.Background(), c.userID); err != nil {
			h.logger.Warnw("failed to unregister presence", "user_id", c.userID, "error", err)
		}
	}
}

func (h *Hub) removeFromGroupLocked(c *client, group string) {
	delete(c.groups, group)
	if set, ok := h.groups[group]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) sendAll(targets []*client, message interface{}) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Errorw("failed to marshal message", "error", err)
		return 0
	}

	sent := 0
	for _, c := range targets {
		if err := c.write(h.cfg.WriteTimeout, websocket.TextMessage, data); err != nil {
			h.logger.Debugw("write failed, closing connection", "user_id", c.userID, "error", err)
			// The read loop notices the closed socket and unregisters.
			_ = c.conn.Close()
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) reportConnections() {
	if h.observer != nil {
		h.observer.SetLiveConnections(h.ConnectionCount())
	}
}

// HealthCheck reports the number of live connections.
func (h *Hub) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": h.ConnectionCount(),
	})
}

var _ ports.Fabric = (*Hub)(nil)
