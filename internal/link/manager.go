// Package link tracks every point-to-point link a participant holds and
// fans broadcasts out across the open ones.
//
// A Manager is not safe for concurrent use. It is owned by the session's
// event loop, which serializes every call.
package link

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var (
	ErrUnknownLink   = errors.New("unknown link")
	ErrDuplicateLink = errors.New("link already exists")
	ErrLinkNotOpen   = errors.New("link not open")
)

// State of a link. Closed is terminal; closed links leave the active set.
type State int

const (
	Negotiating State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the transport half of a link.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Handler receives link lifecycle and inbound traffic.
type Handler interface {
	OnLinkOpened(id string)
	OnLinkClosed(id string)
	OnInboundMessage(id string, payload []byte)
}

// Link is a snapshot of one link.
type Link struct {
	ID       string
	State    State
	PeerName string
}

type entry struct {
	Link
	conn Conn
}

type Manager struct {
	links   map[string]*entry
	handler Handler
	logger  *slog.Logger
}

func NewManager(handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		links:   make(map[string]*entry),
		handler: handler,
		logger:  logger.With("component", "link"),
	}
}

// Add registers a link that is still negotiating.
func (m *Manager) Add(id string, conn Conn) error {
	if _, ok := m.links[id]; ok {
		return fmt.Errorf("add %s: %w", id, ErrDuplicateLink)
	}
	m.links[id] = &entry{Link: Link{ID: id, State: Negotiating}, conn: conn}
	m.logger.Debug("link added", "link", id)
	return nil
}

// Open marks a negotiating link as ready and notifies the handler.
func (m *Manager) Open(id string) error {
	e, ok := m.links[id]
	if !ok {
		return fmt.Errorf("open %s: %w", id, ErrUnknownLink)
	}
	if e.State == Open {
		return nil
	}
	e.State = Open
	m.logger.Info("link open", "link", id)
	if m.handler != nil {
		m.handler.OnLinkOpened(id)
	}
	return nil
}

// Close tears the link down and removes it. The handler hears about it only
// if the link had been open. Unknown ids are ignored.
func (m *Manager) Close(id string) {
	e, ok := m.links[id]
	if !ok {
		return
	}
	wasOpen := e.State == Open
	e.State = Closed
	delete(m.links, id)

	if err := e.conn.Close(); err != nil {
		m.logger.Debug("closing link transport", "link", id, "error", err)
	}
	m.logger.Info("link closed", "link", id, "was_open", wasOpen)
	if wasOpen && m.handler != nil {
		m.handler.OnLinkClosed(id)
	}
}

// CloseAll closes every link.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		m.Close(id)
	}
}

// Deliver hands an inbound payload to the handler. Traffic on links that are
// not open is dropped.
func (m *Manager) Deliver(id string, payload []byte) {
	e, ok := m.links[id]
	if !ok || e.State != Open {
		m.logger.Debug("dropping inbound payload", "link", id)
		return
	}
	if m.handler != nil {
		m.handler.OnInboundMessage(id, payload)
	}
}

// Broadcast sends payload to every open link and returns how many sends
// succeeded. A failed send is logged and does not affect the others.
func (m *Manager) Broadcast(payload []byte) int {
	return m.BroadcastExcept("", payload)
}

// BroadcastExcept is Broadcast without the link identified by origin.
func (m *Manager) BroadcastExcept(origin string, payload []byte) int {
	delivered := 0
	for id, e := range m.links {
		if id == origin || e.State != Open {
			continue
		}
		if err := e.conn.Send(payload); err != nil {
			m.logger.Warn("broadcast send failed", "link", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo sends payload to a single open link.
func (m *Manager) SendTo(id string, payload []byte) error {
	e, ok := m.links[id]
	if !ok {
		return fmt.Errorf("send %s: %w", id, ErrUnknownLink)
	}
	if e.State != Open {
		return fmt.Errorf("send %s: %w", id, ErrLinkNotOpen)
	}
	return e.conn.Send(payload)
}

// SetPeerName records the display name announced over the link.
func (m *Manager) SetPeerName(id, name string) {
	if e, ok := m.links[id]; ok {
		e.PeerName = name
	}
}

// Get returns a snapshot of the link.
func (m *Manager) Get(id string) (Link, bool) {
	e, ok := m.links[id]
	if !ok {
		return Link{}, false
	}
	return e.Link, true
}

// Len counts links in the active set, negotiating ones included.
func (m *Manager) Len() int {
	return len(m.links)
}

func (m *Manager) OpenCount() int {
	n := 0
	for _, e := range m.links {
		if e.State == Open {
			n++
		}
	}
	return n
}

// IDs returns the active link ids in sorted order.
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
