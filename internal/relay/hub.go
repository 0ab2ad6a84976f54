package relay

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	petname "github.com/dustinkirkland/golang-petname"
)

// Hub is the central brain of the relay server.
// It manages all connected clients.
type Hub struct {
	// clients maps connection ids to connected clients, named or not.
	clients map[string]*Client

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound carries every message read from any client.
	Inbound chan *Message

	done   chan struct{}
	logger *slog.Logger
	now    func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Message),
		done:       make(chan struct{}),
		logger:     logger.With("component", "relay"),
		now:        time.Now,
	}
}

// generateID creates a memorable connection id that is not in use.
func (h *Hub) generateID() string {
	for {
		id := petname.Generate(2, "-")
		if _, ok := h.clients[id]; !ok {
			return id
		}
	}
}

// Run starts the hub's main processing loop.
// This is the single goroutine that safely manages all state.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				close(c.Send)
			}
			h.clients = make(map[string]*Client)
			return

		case client := <-h.Register:
			client.ID = h.generateID()
			h.clients[client.ID] = client
			h.logger.Debug("client registered", "id", client.ID, "remote", client.Conn.RemoteAddr().String())

		case client := <-h.Unregister:
			h.remove(client)

		case msg := <-h.Inbound:
			h.handle(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	h.logger.Debug("client unregistered", "id", client.ID)

	if client.UserName == "" {
		return
	}
	h.logger.Info("user left", "user", client.UserName, "online", h.onlineCount())
	h.broadcast(client, EventUserLeft, PresencePayload{
		ID:          client.ID,
		UserName:    client.UserName,
		OnlineCount: h.onlineCount(),
	})
}

func (h *Hub) handle(msg *Message) {
	c := msg.client
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	switch msg.Type {
	case EventUserJoin:
		h.handleJoin(c, msg)

	case EventMessage:
		if c.UserName == "" {
			h.sendError(c, "join before sending messages")
			return
		}
		var p ChatPayload
		if err := msg.Decode(&p); err != nil {
			h.sendError(c, "invalid message payload")
			return
		}
		p.Author = c.UserName
		if p.Time.IsZero() {
			p.Time = h.now()
		}
		h.logger.Debug("relaying message", "from", c.ID, "id", p.ID)
		// The sender already rendered its own copy.
		h.broadcast(c, EventMessage, p)

	default:
		h.logger.Debug("unknown message type", "type", msg.Type, "from", c.ID)
	}
}

func (h *Hub) handleJoin(c *Client, msg *Message) {
	var p UserJoinPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(c, "invalid join payload")
		return
	}
	name, err := chat.ValidateName(p.UserName)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	if c.UserName != "" {
		h.sendError(c, "already joined")
		return
	}
	c.UserName = name

	current := CurrentUsersPayload{Self: c.ID}
	for _, other := range h.named() {
		current.Names = append(current.Names, other.UserName)
		current.Users = append(current.Users, User{ID: other.ID, UserName: other.UserName})
	}
	h.send(c, EventCurrentUsers, current)

	h.logger.Info("user joined", "user", name, "online", h.onlineCount())
	h.broadcast(c, EventUserJoined, PresencePayload{
		ID:          c.ID,
		UserName:    name,
		OnlineCount: h.onlineCount(),
	})
}

// named returns the clients that have joined, sorted by id.
func (h *Hub) named() []*Client {
	var out []*Client
	for _, c := range h.clients {
		if c.UserName != "" {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) onlineCount() int {
	return len(h.named())
}

// broadcast sends to every named client except origin.
func (h *Hub) broadcast(origin *Client, event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast", "event", event, "error", err)
		return
	}
	for _, c := range h.named() {
		if c == origin {
			continue
		}
		h.deliver(c, msg)
	}
}

func (h *Hub) send(c *Client, event string, payload any) {
	msg, err := NewMessage(event, payload)
	if err != nil {
		h.logger.Error("encoding message", "event", event, "error", err)
		return
	}
	h.deliver(c, msg)
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, EventError, ErrorPayload{Error: text})
}

// deliver drops clients whose send buffer is full.
func (h *Hub) deliver(c *Client, msg *Message) {
	select {
	case c.Send <- msg:
	default:
		h.logger.Warn("client too slow, dropping", "id", c.ID)
		h.remove(c)
	}
}
