package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/negotiator"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/room"
)

// offerWaiter receives offer tokens pasted while JoinRoom waits.
type offerWaiter struct {
	offers chan manualOffer
	done   chan struct{}
}

type manualOffer struct {
	rec   record.Record
	reply chan error
}

// JoinRoom joins the room with the given code. It looks the offer up in
// the directory first; if that fails it shows a join request token and
// waits for an offer token to be submitted with SubmitManualCode. It
// returns once our answer is out, before the link opens.
func (s *Session) JoinRoom(ctx context.Context, name, code string) error {
	name, err := chat.ValidateName(name)
	if err != nil {
		return NewError("join room", err)
	}
	if err := room.ValidateCode(code); err != nil {
		return NewError("join room", err)
	}

	w := &offerWaiter{offers: make(chan manualOffer), done: make(chan struct{})}
	var localID string
	err = s.call(ctx, func() error {
		if err := s.enter(ModeJoiner, name, code); err != nil {
			return err
		}
		s.waiter = w
		localID = s.localID
		return nil
	})
	if err != nil {
		return NewError("join room", err)
	}

	joined := false
	defer func() {
		close(w.done)
		ok := joined
		s.post(func() {
			if s.waiter == w {
				s.waiter = nil
			}
			if !ok && s.mode == ModeJoiner {
				s.leaveRoom()
			}
		})
	}()

	if d := s.opts.Directory; d != nil {
		rec, err := d.LookupOffer(ctx, code)
		switch {
		case err == nil:
			if err := s.accept(ctx, rec); err != nil {
				return NewError("join room", err)
			}
			joined = true
			return nil
		case errors.Is(err, room.ErrRoomNotFound):
			s.logger.Info("room not in directory", "room", code)
		default:
			s.logger.Warn("looking up room", "room", code, "error", err)
		}
	}

	if err := s.awaitOffer(ctx, code, localID, w); err != nil {
		return err
	}
	joined = true
	return nil
}

// awaitOffer shows our join request and waits for an offer, either pasted
// by hand or appearing in the directory.
func (s *Session) awaitOffer(ctx context.Context, code, localID string, w *offerWaiter) error {
	token, err := record.Encode(record.New(record.TypeRequest, code, "", localID))
	if err != nil {
		return NewError("join room", err)
	}
	s.post(func() {
		s.ui.OnToken(record.TypeRequest, token)
		s.ui.OnSystemNotice(fmt.Sprintf("Room %s was not found. Send the join request token to the room creator and paste their offer token with /code.", code))
	})

	var expired <-chan time.Time
	if s.opts.ManualTimeout > 0 {
		t := time.NewTimer(s.opts.ManualTimeout)
		defer t.Stop()
		expired = t.C
	}

	d := s.opts.Directory
	var poll <-chan time.Time
	if d != nil {
		t := time.NewTicker(d.PollInterval())
		defer t.Stop()
		poll = t.C
	}

	for {
		select {
		case m := <-w.offers:
			err := s.accept(ctx, m.rec)
			m.reply <- err
			if err == nil {
				return nil
			}

		case <-poll:
			rec, err := d.LookupOffer(ctx, code)
			if err != nil {
				continue
			}
			if err := s.accept(ctx, rec); err != nil {
				return NewError("join room", err)
			}
			return nil

		case <-expired:
			return WrapError("join room", room.ErrRoomNotFound, fmt.Sprintf("no offer for room %s within %s", code, s.opts.ManualTimeout))

		case <-ctx.Done():
			return NewError("join room", ctx.Err())

		case <-s.ctx.Done():
			return NewError("join room", ErrClosed)
		}
	}
}

// accept answers an offer: it creates the link, applies the offer and
// publishes the answer.
func (s *Session) accept(ctx context.Context, rec record.Record) error {
	n, err := s.newNegotiation(ctx, negotiator.Joiner)
	if err != nil {
		return err
	}

	answer, err := n.neg.Apply(ctx, rec)
	var token string
	if err == nil {
		token, err = record.Encode(*answer)
	}
	if err != nil {
		s.post(func() { s.drop(n.id, err) })
		return err
	}

	var publishErr error
	if d := s.opts.Directory; d != nil {
		if publishErr = d.PublishAnswer(ctx, *answer); publishErr != nil {
			s.logger.Warn("publishing answer", "room", rec.RoomID, "error", publishErr)
		}
	}

	return s.call(ctx, func() error {
		if _, ok := s.negs[n.id]; !ok {
			return fmt.Errorf("%w: link closed before the answer was sent", negotiator.ErrNegotiationFailed)
		}
		s.armTimeout(n.id)
		s.ui.OnToken(record.TypeAnswer, token)
		if publishErr != nil {
			s.ui.OnSystemNotice("Could not publish the answer to the directory. Send the answer token to the room creator.")
		}
		return nil
	})
}

// SubmitManualCode feeds a token pasted by the user into the session. A
// bad token returns an error and leaves the session as it was, so the
// user can try again.
func (s *Session) SubmitManualCode(ctx context.Context, token string) error {
	rec, err := record.Decode(token)
	if err != nil {
		return NewError("submit code", err)
	}

	var w *offerWaiter
	err = s.call(ctx, func() error {
		if s.mode == ModeIdle || s.mode == ModeRelay {
			return ErrNotInRoom
		}
		if rec.RoomID != s.code {
			return fmt.Errorf("%w: token is for room %s, this is room %s", ErrRoomMismatch, rec.RoomID, s.code)
		}
		if s.mode == ModeCreator {
			return s.submitAsCreator(rec)
		}
		if rec.Type != record.TypeOffer {
			return fmt.Errorf("%w: expected an offer token, got %s", ErrUnexpectedToken, rec.Type)
		}
		if s.waiter == nil {
			return ErrNotWaiting
		}
		w = s.waiter
		return nil
	})
	if err != nil {
		return NewError("submit code", err)
	}
	if w == nil {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case w.offers <- manualOffer{rec: rec, reply: reply}:
	case <-w.done:
		return NewError("submit code", ErrNotWaiting)
	case <-ctx.Done():
		return NewError("submit code", ctx.Err())
	}
	if err := <-reply; err != nil {
		return NewError("submit code", err)
	}
	return nil
}
