// Package webrtc provides the point-to-point transport used for chat links:
// one pion PeerConnection carrying a single ordered data channel, negotiated
// with vanilla ICE so that a complete description fits in one token.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
)

// ChannelLabel names the data channel every link uses.
const ChannelLabel = "chat"

var (
	ErrTransportUnavailable = errors.New("peer-to-peer transport unavailable")
	ErrChannelNotOpen       = errors.New("channel not open")
	ErrGatherTimeout        = errors.New("ICE gathering timed out")
)

// Peer is one end of a link. Register callbacks before starting the
// negotiation; they run on pion's goroutines.
type Peer struct {
	pc            *pion.PeerConnection
	gatherTimeout time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	dc        *pion.DataChannel
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	closed    bool
	closeOnce sync.Once
}

// NewPeer creates the peer connection. Failure here means this runtime can
// not do peer-to-peer at all and is reported as ErrTransportUnavailable.
func NewPeer(ice ICEConfig, logger *slog.Logger) (*Peer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         ice.Servers,
		ICETransportPolicy: ice.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create peer connection: %w", ErrTransportUnavailable, err)
	}

	gatherTimeout := ice.GatherTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = DefaultGatherTimeout
	}
	p := &Peer{
		pc:            pc,
		gatherTimeout: gatherTimeout,
		logger:        logger.With("component", "webrtc"),
	}

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != ChannelLabel {
			p.logger.Debug("ignoring data channel", "label", dc.Label())
			return
		}
		p.attach(dc)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("connection state changed", "state", state.String())
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			p.fireClose()
		}
	})
	return p, nil
}

func (p *Peer) OnOpen(fn func()) {
	p.mu.Lock()
	p.onOpen = fn
	p.mu.Unlock()
}

func (p *Peer) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
}

// OnClose fires once, when the channel closes or the connection fails. It
// does not fire for a local Close.
func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *Peer) attach(dc *pion.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.mu.Lock()
		fn := p.onOpen
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onMessage
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
	dc.OnClose(p.fireClose)
}

func (p *Peer) fireClose() {
	p.mu.Lock()
	fn := p.onClose
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.closeOnce.Do(func() {
		if fn != nil {
			fn()
		}
	})
}

// CreateOffer opens the chat channel and returns the complete offer SDP.
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(ChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return "", fmt.Errorf("create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return p.setLocal(ctx, offer)
}

// AcceptOffer applies a remote offer and returns the complete answer SDP.
func (p *Peer) AcceptOffer(ctx context.Context, sdp string) (string, error) {
	err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return p.setLocal(ctx, answer)
}

// AcceptAnswer applies the remote answer to our offer.
func (p *Peer) AcceptAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// setLocal applies desc and waits for ICE gathering so the returned SDP
// carries every candidate.
func (p *Peer) setLocal(ctx context.Context, desc pion.SessionDescription) (string, error) {
	gatherComplete := pion.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(p.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrGatherTimeout, p.gatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.pc.LocalDescription().SDP, nil
}

func (p *Peer) Send(payload []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(payload)
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}
