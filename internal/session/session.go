// Package session owns everything one participant needs to chat: the
// links to other participants, the roster, the message broadcaster and the
// negotiations in flight. All of that state is touched only by the
// goroutine running Run; transport callbacks and UI calls are turned into
// actions on that goroutine.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/link"
	"github.com/BioHazard786/warpchat/internal/negotiator"
	"github.com/BioHazard786/warpchat/internal/presence"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/relay"
	"github.com/BioHazard786/warpchat/internal/room"
	"github.com/BioHazard786/warpchat/internal/webrtc"
	petname "github.com/dustinkirkland/golang-petname"
)

const DefaultNegotiationTimeout = 60 * time.Second

// UI receives everything the user should see. Methods are called from the
// session goroutine and should not block for long.
type UI interface {
	OnMessageReceived(msg chat.Message)
	OnSystemNotice(text string)
	OnPresenceChanged(count int)
	OnToken(t record.Type, token string)
}

// Transport is one peer-to-peer connection. *webrtc.Peer implements it.
type Transport interface {
	negotiator.Transport
	Send(payload []byte) error
	OnOpen(fn func())
	OnMessage(fn func([]byte))
	OnClose(fn func())
}

type Options struct {
	// Directory is where offers and answers are exchanged. Nil means
	// tokens are only exchanged by hand.
	Directory *room.Directory

	// NewTransport creates the transport for each link. Defaults to a
	// WebRTC peer without ICE servers.
	NewTransport func() (Transport, error)

	// NegotiationTimeout bounds the time from an applied answer to an
	// open link.
	NegotiationTimeout time.Duration

	// ManualTimeout bounds how long a joiner waits for an offer token.
	// Zero waits until the context ends.
	ManualTimeout time.Duration

	Logger *slog.Logger
}

// Mode is what the session is currently doing.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCreator
	ModeJoiner
	ModeRelay
)

func (m Mode) String() string {
	switch m {
	case ModeCreator:
		return "creator"
	case ModeJoiner:
		return "joiner"
	case ModeRelay:
		return "relay"
	default:
		return "idle"
	}
}

// Info is a snapshot of the session for display.
type Info struct {
	Mode       Mode
	Name       string
	Code       string
	Members    []string
	OfferToken string
	Links      int
}

type Session struct {
	opts   Options
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	actions chan func()
	done    chan struct{}
	running atomic.Bool

	answers   *negotiator.PendingAnswerSet
	offerSeq  atomic.Uint64
	publishMu sync.Mutex

	// Owned by the Run goroutine.
	ui       UI
	mode     Mode
	name     string
	code     string
	localID  string
	links    *link.Manager
	presence *presence.Tracker
	chat     *chat.Broadcaster
	negs     map[string]*negotiator.Negotiator
	timers   map[string]*time.Timer
	offer    *offer
	offering bool
	waiter   *offerWaiter
	relay    *relay.Conn
	// Presence ids of participants we only know through the creator.
	remote map[string]struct{}
}

func New(ui UI, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if opts.NewTransport == nil {
		logger := opts.Logger
		opts.NewTransport = func() (Transport, error) {
			p, err := webrtc.NewPeer(webrtc.ICEConfig{}, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:    opts,
		logger:  opts.Logger.With("component", "session"),
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func(), 64),
		done:    make(chan struct{}),
		answers: negotiator.NewPendingAnswerSet(),
		ui:      ui,
		negs:    make(map[string]*negotiator.Negotiator),
		timers:  make(map[string]*time.Timer),
	}
	s.links = link.NewManager(linkEvents{s}, opts.Logger)
	return s
}

// Run processes session actions until ctx ends or Close is called. Every
// other method needs Run to be running.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case fn := <-s.actions:
			fn()
		}
	}
}

// Close leaves the room and waits for Run to return.
func (s *Session) Close() error {
	s.cancel()
	if s.running.Load() {
		<-s.done
	}
	return nil
}

// SendText sends a chat message to everyone reachable. Blank text is
// ignored.
func (s *Session) SendText(text string) error {
	return s.call(context.Background(), func() error {
		if s.chat == nil {
			return ErrNotInRoom
		}
		s.chat.Send(text)
		return nil
	})
}

func (s *Session) Info(ctx context.Context) (Info, error) {
	var info Info
	err := s.call(ctx, func() error {
		info = Info{
			Mode:  s.mode,
			Name:  s.name,
			Code:  s.code,
			Links: s.links.OpenCount(),
		}
		if s.presence != nil {
			info.Members = s.presence.Names()
		}
		if s.offer != nil {
			info.OfferToken = s.offer.token
		}
		return nil
	})
	return info, err
}

// post queues fn for the session goroutine. It reports false once the
// session is gone.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.actions <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the session goroutine and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// enter prepares per-room state.
func (s *Session) enter(mode Mode, name, code string) error {
	if s.mode != ModeIdle {
		return ErrAlreadyInRoom
	}
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	s.mode = mode
	s.name = name
	s.code = code
	s.localID = petname.Generate(2, "-")
	s.presence = presence.New(name, notifier{s})
	s.chat = chat.New(name, publisher{s}, func(msg chat.Message) { s.ui.OnMessageReceived(msg) })
	s.offering = mode == ModeCreator
	s.remote = make(map[string]struct{})
	s.presence.Start()
	s.logger.Info("entered room", "mode", mode, "room", code, "local_id", s.localID)
	return nil
}

// leaveRoom tears down all per-room state and returns to idle.
func (s *Session) leaveRoom() {
	s.mode = ModeIdle
	s.offer = nil
	s.offering = false
	if frame, err := webrtc.EncodeFrame(webrtc.TypeLeave, webrtc.LeavePayload{Name: s.name}); err == nil {
		s.links.Broadcast(frame)
	}
	for id := range s.negs {
		s.drop(id, nil)
	}
	s.links.CloseAll()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	if s.relay != nil {
		s.relay.Close()
		s.relay = nil
	}
	s.code = ""
	s.chat = nil
	s.presence = nil
	s.remote = nil
}

func (s *Session) shutdown() {
	s.cancel()
	// Nobody is listening any more.
	s.ui = discardUI{}

	if s.mode == ModeCreator && s.opts.Directory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.opts.Directory.Withdraw(ctx, s.code); err != nil {
			s.logger.Debug("withdrawing offer", "room", s.code, "error", err)
		}
		cancel()
	}
	s.leaveRoom()
	s.logger.Debug("session closed")
}

// negotiation is a link being set up.
type negotiation struct {
	id        string
	transport Transport
	neg       *negotiator.Negotiator
}

// newNegotiation creates a transport and registers a link for it. It must
// not be called from the session goroutine.
func (s *Session) newNegotiation(ctx context.Context, role negotiator.Role) (*negotiation, error) {
	t, err := s.opts.NewTransport()
	if err != nil {
		return nil, transportError(err)
	}

	var n *negotiation
	err = s.call(ctx, func() error {
		if s.mode == ModeIdle {
			return ErrNotInRoom
		}
		id := s.newLinkID()
		neg := negotiator.New(role, s.code, s.localID, t, negotiator.WithStateHook(func(from, to negotiator.State) {
			s.logger.Debug("negotiation state", "link", id, "from", from, "to", to)
		}))
		if err := s.links.Add(id, t); err != nil {
			return err
		}
		s.negs[id] = neg
		n = &negotiation{id: id, transport: t, neg: neg}
		return nil
	})
	if err != nil {
		t.Close()
		return nil, err
	}

	id := n.id
	t.OnOpen(func() { s.post(func() { s.open(id) }) })
	t.OnMessage(func(payload []byte) { s.post(func() { s.links.Deliver(id, payload) }) })
	t.OnClose(func() { s.post(func() { s.drop(id, nil) }) })
	return n, nil
}

func (s *Session) newLinkID() string {
	for {
		id := petname.Generate(2, "-")
		if _, ok := s.negs[id]; !ok && id != s.localID {
			return id
		}
	}
}

func (s *Session) open(id string) {
	if _, ok := s.negs[id]; !ok {
		return
	}
	if err := s.links.Open(id); err != nil {
		s.logger.Debug("opening link", "link", id, "error", err)
	}
}

// drop closes link id and forgets its negotiation. A non-nil cause marks
// the negotiation failed.
func (s *Session) drop(id string, cause error) {
	neg, ok := s.negs[id]
	if !ok {
		return
	}
	delete(s.negs, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if cause != nil {
		neg.Fail(cause)
	} else {
		neg.Close()
	}
	s.links.Close(id)

	if s.offer != nil && s.offer.linkID == id {
		s.offer = nil
		s.reoffer()
	}
}

func (s *Session) armTimeout(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.opts.NegotiationTimeout, func() {
		s.post(func() { s.expire(id) })
	})
}

func (s *Session) expire(id string) {
	delete(s.timers, id)
	l, ok := s.links.Get(id)
	if !ok || l.State == link.Open {
		return
	}
	s.logger.Warn("negotiation timed out", "link", id, "timeout", s.opts.NegotiationTimeout)
	s.ui.OnSystemNotice("Connection attempt timed out")
	s.drop(id, ErrNegotiationTimeout)
}

// linkEvents receives link manager callbacks on the session goroutine.
type linkEvents struct{ s *Session }

func (h linkEvents) OnLinkOpened(id string) {
	s := h.s
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if neg, ok := s.negs[id]; ok {
		if err := neg.MarkOpen(); err != nil {
			s.logger.Debug("marking negotiation open", "link", id, "error", err)
		}
	}
	s.presence.LinkOpened(id)

	frame, err := webrtc.EncodeFrame(webrtc.TypeJoin, webrtc.JoinPayload{Name: s.name})
	if err != nil {
		s.logger.Error("encoding join frame", "error", err)
		return
	}
	if err := s.links.SendTo(id, frame); err != nil {
		s.logger.Warn("sending join frame", "link", id, "error", err)
	}
}

func (h linkEvents) OnLinkClosed(id string) {
	s := h.s
	if s.presence == nil {
		return
	}
	name, known := s.presence.Name(id)
	s.presence.LinkClosed(id)

	switch s.mode {
	case ModeCreator:
		if known {
			s.sendMember(webrtc.TypeMemberLeft, "", webrtc.MemberPayload{ID: id, Name: name})
		}
	case ModeJoiner:
		// Everyone else was reached through this link.
		for rid := range s.remote {
			s.presence.LinkClosed(rid)
		}
		clear(s.remote)
	}
}

// sendMember sends a member frame to every open link except origin.
func (s *Session) sendMember(t string, origin string, p webrtc.MemberPayload) {
	frame, err := webrtc.EncodeFrame(t, p)
	if err != nil {
		s.logger.Error("encoding member frame", "type", t, "error", err)
		return
	}
	s.links.BroadcastExcept(origin, frame)
}

// sendRoster tells a newly announced joiner who is already in the room.
func (s *Session) sendRoster(to string) {
	var roster webrtc.RosterPayload
	for _, id := range s.links.IDs() {
		l, _ := s.links.Get(id)
		if id == to || l.State != link.Open || l.PeerName == "" {
			continue
		}
		roster.Members = append(roster.Members, webrtc.MemberPayload{ID: id, Name: l.PeerName})
	}
	frame, err := webrtc.EncodeFrame(webrtc.TypeRoster, roster)
	if err != nil {
		s.logger.Error("encoding roster frame", "error", err)
		return
	}
	if err := s.links.SendTo(to, frame); err != nil {
		s.logger.Warn("sending roster", "link", to, "error", err)
	}
}

// remoteID keeps ids learned from the creator apart from our own link ids.
func remoteID(id string) string {
	return "via/" + id
}

func (h linkEvents) OnInboundMessage(id string, payload []byte) {
	s := h.s
	frame, err := webrtc.DecodeFrame(payload)
	if err != nil {
		s.logger.Warn("discarding malformed frame", "link", id, "error", err)
		return
	}

	switch frame.Type {
	case webrtc.TypeJoin:
		var p webrtc.JoinPayload
		if err := frame.DecodePayload(&p); err != nil {
			s.logger.Warn("bad join frame", "link", id, "error", err)
			return
		}
		name, err := chat.ValidateName(p.Name)
		if err != nil {
			name = presence.Placeholder
		}
		prev, _ := s.links.Get(id)
		s.links.SetPeerName(id, name)
		s.presence.JoinAnnouncement(id, name)
		if s.mode == ModeCreator && prev.PeerName == "" {
			s.sendMember(webrtc.TypeMemberJoined, id, webrtc.MemberPayload{ID: id, Name: name})
			s.sendRoster(id)
		}

	case webrtc.TypeMemberJoined, webrtc.TypeMemberLeft:
		if s.mode != ModeJoiner {
			return
		}
		var p webrtc.MemberPayload
		if err := frame.DecodePayload(&p); err != nil || p.ID == "" {
			s.logger.Warn("bad member frame", "link", id, "error", err)
			return
		}
		rid := remoteID(p.ID)
		if frame.Type == webrtc.TypeMemberLeft {
			delete(s.remote, rid)
			s.presence.LinkClosed(rid)
			return
		}
		name, err := chat.ValidateName(p.Name)
		if err != nil {
			name = presence.Placeholder
		}
		s.remote[rid] = struct{}{}
		s.presence.JoinAnnouncement(rid, name)

	case webrtc.TypeRoster:
		if s.mode != ModeJoiner {
			return
		}
		var p webrtc.RosterPayload
		if err := frame.DecodePayload(&p); err != nil {
			s.logger.Warn("bad roster frame", "link", id, "error", err)
			return
		}
		for _, m := range p.Members {
			name, err := chat.ValidateName(m.Name)
			if m.ID == "" || err != nil {
				continue
			}
			rid := remoteID(m.ID)
			s.remote[rid] = struct{}{}
			s.presence.Add(rid, name)
		}

	case webrtc.TypeChat:
		var p webrtc.ChatPayload
		if err := frame.DecodePayload(&p); err != nil {
			s.logger.Warn("bad chat frame", "link", id, "error", err)
			return
		}
		s.chat.Receive(p.Message())
		// The creator is the hub of the star; pass the frame on unchanged.
		if s.mode == ModeCreator {
			s.links.BroadcastExcept(id, payload)
		}

	case webrtc.TypeLeave:
		s.drop(id, nil)

	default:
		s.logger.Debug("unknown frame type", "link", id, "type", frame.Type)
	}
}

// publisher is the broadcaster's way out: the relay when connected to
// one, otherwise every open link.
type publisher struct{ s *Session }

func (p publisher) Publish(msg chat.Message) int {
	s := p.s
	if s.relay != nil {
		err := s.relay.Emit(relay.EventMessage, relay.ChatPayload{
			ID:     msg.ID,
			Author: msg.Author,
			Text:   msg.Text,
			Time:   msg.SentAt,
		})
		if err != nil {
			s.logger.Warn("sending to relay", "error", err)
			return 0
		}
		return 1
	}

	frame, err := webrtc.EncodeFrame(webrtc.TypeChat, webrtc.ChatPayloadFrom(msg))
	if err != nil {
		s.logger.Error("encoding chat frame", "error", err)
		return 0
	}
	return s.links.Broadcast(frame)
}

type notifier struct{ s *Session }

func (n notifier) Joined(name string) {
	n.s.ui.OnSystemNotice(fmt.Sprintf("%s joined the chat", name))
}

func (n notifier) Left(name string) {
	n.s.ui.OnSystemNotice(fmt.Sprintf("%s left the chat", name))
}

func (n notifier) CountChanged(count int) {
	n.s.ui.OnPresenceChanged(count)
}

type discardUI struct{}

func (discardUI) OnMessageReceived(chat.Message) {}
func (discardUI) OnSystemNotice(string)          {}
func (discardUI) OnPresenceChanged(int)          {}
func (discardUI) OnToken(record.Type, string)    {}
