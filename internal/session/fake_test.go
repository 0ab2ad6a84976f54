package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/record"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNet connects fakeTransports in memory. An offer or answer "SDP" is
// just a handle into the maps below.
type fakeNet struct {
	mu      sync.Mutex
	seq     int
	offers  map[string]*fakeTransport
	answers map[string]*fakeTransport
	stall   bool
	fail    error
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		offers:  make(map[string]*fakeTransport),
		answers: make(map[string]*fakeTransport),
	}
}

func (n *fakeNet) transport() (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	return &fakeTransport{net: n, opened: make(chan struct{})}, nil
}

type fakeTransport struct {
	net *fakeNet

	mu        sync.Mutex
	peer      *fakeTransport
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	closed    bool
	opened    chan struct{}
	openOnce  sync.Once
	closeOnce sync.Once
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (string, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.seq++
	sdp := fmt.Sprintf("offer-%d", t.net.seq)
	t.net.offers[sdp] = t
	return sdp, nil
}

func (t *fakeTransport) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	offerer, ok := t.net.offers[sdp]
	if !ok {
		return "", errors.New("unknown offer")
	}
	t.net.seq++
	answer := fmt.Sprintf("answer-%d", t.net.seq)
	t.net.answers[answer] = t

	t.mu.Lock()
	t.peer = offerer
	t.mu.Unlock()
	return answer, nil
}

func (t *fakeTransport) AcceptAnswer(sdp string) error {
	t.net.mu.Lock()
	answerer, ok := t.net.answers[sdp]
	stall := t.net.stall
	t.net.mu.Unlock()
	if !ok {
		return errors.New("unknown answer")
	}

	t.mu.Lock()
	t.peer = answerer
	t.mu.Unlock()
	if stall {
		return nil
	}
	go func() {
		answerer.fireOpen()
		t.fireOpen()
	}()
	return nil
}

func (t *fakeTransport) fireOpen() {
	t.openOnce.Do(func() {
		t.mu.Lock()
		fn, closed := t.onOpen, t.closed
		t.mu.Unlock()
		if fn != nil && !closed {
			fn()
		}
		close(t.opened)
	})
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	peer, closed := t.peer, t.closed
	t.mu.Unlock()
	if closed || peer == nil {
		return errors.New("not connected")
	}

	// Delivery waits for the other side's open event to be queued, as a
	// data channel would.
	select {
	case <-peer.opened:
	case <-time.After(time.Second):
		return errors.New("peer never opened")
	}

	peer.mu.Lock()
	fn, peerClosed := peer.onMessage, peer.closed
	peer.mu.Unlock()
	if peerClosed {
		return errors.New("peer closed")
	}
	if fn != nil {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	peer := t.peer
	t.mu.Unlock()

	if peer != nil {
		go peer.remoteClosed()
	}
	return nil
}

func (t *fakeTransport) remoteClosed() {
	t.mu.Lock()
	fn, closed := t.onClose, t.closed
	t.mu.Unlock()
	if closed || fn == nil {
		return
	}
	t.closeOnce.Do(fn)
}

func (t *fakeTransport) OnOpen(fn func()) {
	t.mu.Lock()
	t.onOpen = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// recorder is a UI that remembers everything it was shown.
type recorder struct {
	mu       sync.Mutex
	messages []chat.Message
	notices  []string
	count    int
	tokens   map[record.Type][]string
}

func newRecorder() *recorder {
	return &recorder{tokens: make(map[record.Type][]string)}
}

func (r *recorder) OnMessageReceived(msg chat.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) OnSystemNotice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recorder) OnPresenceChanged(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = count
}

func (r *recorder) OnToken(t record.Type, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t] = append(r.tokens[t], token)
}

func (r *recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *recorder) Tokens(t record.Type) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens[t]...)
}

func (r *recorder) LastToken(t record.Type) string {
	tokens := r.Tokens(t)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

func (r *recorder) HasNotice(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notices {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) NoticeCount(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if strings.Contains(notice, substr) {
			n++
		}
	}
	return n
}

// Received returns messages written by someone else.
func (r *recorder) Received(self string) []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []chat.Message
	for _, m := range r.messages {
		if m.Author != self {
			out = append(out, m)
		}
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// start runs a session until the test ends.
func start(t *testing.T, ui UI, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	s := New(ui, opts)
	go s.Run(context.Background())
	t.Cleanup(func() { s.Close() })
	return s
}
