package session

import (
	"context"
	"fmt"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/relay"
)

// JoinRelay chats through a relay server instead of peer-to-peer links.
// Presence comes from the relay's user events.
func (s *Session) JoinRelay(ctx context.Context, name, url string) error {
	name, err := chat.ValidateName(name)
	if err != nil {
		return NewError("join relay", err)
	}
	if err := s.call(ctx, func() error { return s.enter(ModeRelay, name, "") }); err != nil {
		return NewError("join relay", err)
	}

	conn, err := relay.Dial(ctx, url, s.opts.Logger)
	if err == nil {
		err = conn.Emit(relay.EventUserJoin, relay.UserJoinPayload{UserName: name})
		if err != nil {
			conn.Close()
		}
	}
	if err != nil {
		s.post(s.leaveRoom)
		return WrapError("join relay", err, url)
	}

	err = s.call(ctx, func() error {
		if s.mode != ModeRelay {
			return ErrNotInRoom
		}
		s.relay = conn
		return nil
	})
	if err != nil {
		conn.Close()
		return NewError("join relay", err)
	}

	go func() {
		for msg := range conn.Events() {
			msg := msg
			if !s.post(func() { s.relayEvent(msg) }) {
				return
			}
		}
		s.post(func() {
			if s.relay == conn {
				s.relay = nil
				s.ui.OnSystemNotice("Disconnected from the relay")
			}
		})
	}()
	return nil
}

func (s *Session) relayEvent(msg *relay.Message) {
	if s.presence == nil {
		return
	}

	switch msg.Type {
	case relay.EventCurrentUsers:
		var p relay.CurrentUsersPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("bad currentUsers event", "error", err)
			return
		}
		for _, u := range p.Users {
			if u.ID != p.Self {
				s.presence.Add(u.ID, u.UserName)
			}
		}

	case relay.EventUserJoined:
		var p relay.PresencePayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("bad userJoined event", "error", err)
			return
		}
		s.presence.JoinAnnouncement(p.ID, p.UserName)

	case relay.EventUserLeft:
		var p relay.PresencePayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("bad userLeft event", "error", err)
			return
		}
		s.presence.LinkClosed(p.ID)

	case relay.EventMessage:
		var p relay.ChatPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("bad message event", "error", err)
			return
		}
		s.chat.Receive(chat.Message{ID: p.ID, Author: p.Author, Text: p.Text, SentAt: p.Time})

	case relay.EventError:
		var p relay.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		s.ui.OnSystemNotice(fmt.Sprintf("Relay: %s", p.Error))

	default:
		s.logger.Debug("unknown relay event", "type", msg.Type)
	}
}
