package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/negotiator"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/room"
)

// offer is the creator's single outstanding offer. A new one replaces it
// each time a joiner's answer is applied.
type offer struct {
	linkID string
	rec    record.Record
	token  string
	neg    *negotiator.Negotiator
}

// CreateRoom opens a new room and returns its code. The first offer is
// ready, and published if there is a directory, when it returns.
func (s *Session) CreateRoom(ctx context.Context, name string) (string, error) {
	name, err := chat.ValidateName(name)
	if err != nil {
		return "", NewError("create room", err)
	}
	code, err := room.GenerateCode()
	if err != nil {
		return "", NewError("create room", err)
	}
	if err := s.call(ctx, func() error { return s.enter(ModeCreator, name, code) }); err != nil {
		return "", NewError("create room", err)
	}

	o, err := s.prepareOffer(ctx)
	if err != nil {
		s.post(s.leaveRoom)
		return "", WrapError("create room", err, "room "+code)
	}
	if err := s.call(ctx, func() error { return s.installOffer(o) }); err != nil {
		return "", NewError("create room", err)
	}

	if d := s.opts.Directory; d != nil {
		go func() {
			for rec := range d.WatchAnswers(s.ctx, code, s.answers) {
				rec := rec
				if !s.post(func() { s.applyAnswer(rec) }) {
					return
				}
			}
		}()
	}
	return code, nil
}

// prepareOffer creates a link and its offer. It blocks while ICE
// candidates are gathered.
func (s *Session) prepareOffer(ctx context.Context) (*offer, error) {
	n, err := s.newNegotiation(ctx, negotiator.Creator)
	if err != nil {
		return nil, err
	}
	rec, err := n.neg.Offer(ctx)
	if err == nil {
		var token string
		if token, err = record.Encode(rec); err == nil {
			return &offer{linkID: n.id, rec: rec, token: token, neg: n.neg}, nil
		}
	}
	s.post(func() { s.drop(n.id, err) })
	return nil, err
}

// installOffer makes o the current offer, shows its token and publishes it.
func (s *Session) installOffer(o *offer) error {
	s.offering = false
	if s.mode != ModeCreator {
		o.neg.Close()
		return ErrNotInRoom
	}
	if _, ok := s.negs[o.linkID]; !ok {
		s.reoffer()
		return fmt.Errorf("offer link %s already closed", o.linkID)
	}
	s.offer = o
	s.ui.OnToken(record.TypeOffer, o.token)

	if d := s.opts.Directory; d != nil {
		seq := s.offerSeq.Add(1)
		go s.publishOffer(d, o.rec, seq)
	}
	return nil
}

func (s *Session) publishOffer(d *room.Directory, rec record.Record, seq uint64) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	// A newer offer may have been installed while we waited.
	if s.offerSeq.Load() != seq {
		return
	}
	if err := d.PublishOffer(s.ctx, rec); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("publishing offer", "room", rec.RoomID, "error", err)
		s.post(func() {
			s.ui.OnSystemNotice(fmt.Sprintf("Could not publish the room to the directory (%v). Share the offer token by hand.", err))
		})
	}
}

// reoffer prepares the next offer in the background, unless one exists or
// is already on its way.
func (s *Session) reoffer() {
	if s.mode != ModeCreator || s.offering || s.offer != nil || s.ctx.Err() != nil {
		return
	}
	s.offering = true
	go func() {
		o, err := s.prepareOffer(s.ctx)
		s.post(func() {
			if err != nil {
				s.offering = false
				if s.ctx.Err() == nil && s.mode == ModeCreator {
					s.ui.OnSystemNotice(fmt.Sprintf("Could not prepare an offer for new participants: %v", err))
				}
				return
			}
			if err := s.installOffer(o); err != nil {
				s.logger.Debug("discarding offer", "error", err)
			}
		})
	}()
}

// applyAnswer completes the current offer's link with a joiner's answer.
// On success the next offer is prepared right away.
func (s *Session) applyAnswer(rec record.Record) error {
	if s.mode != ModeCreator {
		return ErrUnexpectedToken
	}
	o := s.offer
	if o == nil || !repliesTo(rec, o.rec) {
		s.logger.Info("ignoring answer to an earlier offer", "from", rec.From)
		return fmt.Errorf("%w: answer does not match the current offer", negotiator.ErrStaleAnswer)
	}

	if _, err := o.neg.Apply(s.ctx, rec); err != nil {
		if errors.Is(err, negotiator.ErrDuplicateAnswer) || errors.Is(err, negotiator.ErrStaleAnswer) {
			return err
		}
		s.logger.Warn("applying answer", "from", rec.From, "error", err)
		s.ui.OnSystemNotice(fmt.Sprintf("Could not connect to a joining participant: %v", err))
		s.drop(o.linkID, err)
		return err
	}

	s.logger.Info("answer applied", "link", o.linkID, "from", rec.From)
	s.offer = nil
	s.armTimeout(o.linkID)
	s.reoffer()
	return nil
}

// repliesTo reports whether answer was generated for offer. Answers that
// do not name their offer are matched by time instead.
func repliesTo(answer, current record.Record) bool {
	if answer.InReplyTo != "" {
		return answer.InReplyTo == current.ID()
	}
	return answer.Timestamp >= current.Timestamp
}

// submitAsCreator handles a token pasted on the creator's side.
func (s *Session) submitAsCreator(rec record.Record) error {
	switch rec.Type {
	case record.TypeAnswer:
		if !s.answers.Observe(rec.ID()) {
			return negotiator.ErrDuplicateAnswer
		}
		return s.applyAnswer(rec)

	case record.TypeRequest:
		s.logger.Info("join request", "from", rec.From)
		if s.offer == nil {
			s.reoffer()
			s.ui.OnSystemNotice("Preparing a new offer; it will be shown when ready")
			return nil
		}
		s.ui.OnToken(record.TypeOffer, s.offer.token)
		return nil

	default:
		return fmt.Errorf("%w: creator expects an answer or join request, got %s", ErrUnexpectedToken, rec.Type)
	}
}
