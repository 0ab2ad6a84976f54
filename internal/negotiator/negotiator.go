// Package negotiator drives the offer/answer exchange for a single
// point-to-point link. A Negotiator owns exactly one transport session and
// only ever moves forward through its states.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BioHazard786/warpchat/internal/record"
)

var (
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDuplicateAnswer   = errors.New("answer already applied")
	ErrStaleAnswer       = errors.New("offer already answered")
)

// Role selects the creator (offering) or joiner (answering) path.
type Role int

const (
	Creator Role = iota
	Joiner
)

func (r Role) String() string {
	if r == Creator {
		return "creator"
	}
	return "joiner"
}

// Transport is the underlying session description machinery, typically a
// WebRTC peer connection. Each call may block until the description is
// complete (ICE gathering included).
type Transport interface {
	CreateOffer(ctx context.Context) (string, error)
	AcceptOffer(ctx context.Context, sdp string) (string, error)
	AcceptAnswer(sdp string) error
	Close() error
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithStateHook registers fn to be called after every transition. It runs
// on the goroutine that caused the transition, without locks held.
func WithStateHook(fn func(from, to State)) Option {
	return func(n *Negotiator) {
		n.hook = fn
	}
}

type Negotiator struct {
	role      Role
	roomID    string
	localID   string
	transport Transport
	hook      func(from, to State)

	mu      sync.Mutex
	state   State
	err     error
	answers *PendingAnswerSet
}

// New creates a negotiator in the Idle state.
func New(role Role, roomID, localID string, transport Transport, opts ...Option) *Negotiator {
	n := &Negotiator{
		role:      role,
		roomID:    roomID,
		localID:   localID,
		transport: transport,
		state:     Idle,
		answers:   NewPendingAnswerSet(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Negotiator) Role() Role {
	return n.role
}

func (n *Negotiator) RoomID() string {
	return n.roomID
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the error that moved the negotiator to Failed, if any.
func (n *Negotiator) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Offer generates the local offer description. Creator only.
func (n *Negotiator) Offer(ctx context.Context) (record.Record, error) {
	if n.role != Creator {
		return record.Record{}, fmt.Errorf("offer: %w: joiner cannot offer", ErrInvalidTransition)
	}
	if err := n.expect(Idle); err != nil {
		return record.Record{}, fmt.Errorf("offer: %w", err)
	}

	sdp, err := n.transport.CreateOffer(ctx)
	if err != nil {
		return record.Record{}, n.fail("create offer", err)
	}
	if err := n.transition(LocalDescriptionReady); err != nil {
		return record.Record{}, fmt.Errorf("offer: %w", err)
	}
	return record.New(record.TypeOffer, n.roomID, sdp, n.localID), nil
}

// Apply feeds a remote record into the state machine. A creator applies an
// answer and gets nil back; a joiner applies an offer and gets the answer
// record to export.
func (n *Negotiator) Apply(ctx context.Context, rec record.Record) (*record.Record, error) {
	if rec.RoomID != n.roomID {
		return nil, n.fail("apply", fmt.Errorf("record for room %s, negotiating room %s", rec.RoomID, n.roomID))
	}
	if n.role == Creator {
		return nil, n.applyAnswer(rec)
	}
	return n.applyOffer(ctx, rec)
}

func (n *Negotiator) applyAnswer(rec record.Record) error {
	if rec.Type != record.TypeAnswer {
		return n.fail("apply", fmt.Errorf("creator expects an answer, got %s", rec.Type))
	}
	if !n.answers.Observe(rec.ID()) {
		return ErrDuplicateAnswer
	}

	switch state := n.State(); {
	case state == LocalDescriptionReady:
	case state == RemoteDescriptionSet || state == Open:
		return ErrStaleAnswer
	default:
		return fmt.Errorf("apply answer: %w: in state %s", ErrInvalidTransition, state)
	}

	if err := n.transport.AcceptAnswer(rec.SDP); err != nil {
		return n.fail("set remote description", err)
	}
	return n.transition(RemoteDescriptionSet)
}

func (n *Negotiator) applyOffer(ctx context.Context, rec record.Record) (*record.Record, error) {
	if rec.Type != record.TypeOffer {
		return nil, n.fail("apply", fmt.Errorf("joiner expects an offer, got %s", rec.Type))
	}
	if err := n.expect(Idle); err != nil {
		return nil, fmt.Errorf("apply offer: %w", err)
	}

	sdp, err := n.transport.AcceptOffer(ctx, rec.SDP)
	if err != nil {
		return nil, n.fail("create answer", err)
	}
	if err := n.transition(RemoteDescriptionSet); err != nil {
		return nil, fmt.Errorf("apply offer: %w", err)
	}
	answer := record.New(record.TypeAnswer, n.roomID, sdp, n.localID)
	answer.InReplyTo = rec.ID()
	return &answer, nil
}

// MarkOpen is called when the transport reports connectivity.
func (n *Negotiator) MarkOpen() error {
	return n.transition(Open)
}

// Fail moves the negotiator to Failed and releases the transport. Failing a
// negotiator that already reached a terminal state is a no-op.
func (n *Negotiator) Fail(err error) {
	n.fail("", err)
}

// Close releases the transport. It is safe to call more than once.
func (n *Negotiator) Close() error {
	if err := n.transition(Closed); err != nil {
		return nil
	}
	return n.transport.Close()
}

func (n *Negotiator) fail(op string, cause error) error {
	err := fmt.Errorf("%w: %w", ErrNegotiationFailed, cause)
	if op != "" {
		err = fmt.Errorf("%w: %s: %w", ErrNegotiationFailed, op, cause)
	}

	n.mu.Lock()
	from := n.state
	if from.Terminal() {
		n.mu.Unlock()
		return err
	}
	n.state = Failed
	n.err = err
	n.mu.Unlock()

	n.transport.Close()
	if n.hook != nil {
		n.hook(from, Failed)
	}
	return err
}

func (n *Negotiator) expect(state State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != state {
		return fmt.Errorf("%w: in state %s, want %s", ErrInvalidTransition, n.state, state)
	}
	return nil
}

// transition is the only place the state changes outside of fail.
func (n *Negotiator) transition(to State) error {
	n.mu.Lock()
	from := n.state
	if !canTransition(from, to) {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	n.state = to
	n.mu.Unlock()

	if n.hook != nil {
		n.hook(from, to)
	}
	return nil
}
