package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/session"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeActions struct {
	sent    []string
	sendErr error
	codes   []string
}

func (f *fakeActions) SendText(text string) error {
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeActions) SubmitManualCode(ctx context.Context, token string) error {
	f.codes = append(f.codes, token)
	return nil
}

func (f *fakeActions) Info(ctx context.Context) (session.Info, error) {
	return session.Info{Members: []string{"Ada", "Grace"}}, nil
}

func newTestModel(opts ChatOptions) (*chatModel, *fakeActions) {
	m := newChatModel(opts, make(chan tea.Msg))
	a := &fakeActions{}
	m.actions = a
	return m, a
}

func typeLine(m *chatModel, line string) tea.Cmd {
	m.input.SetValue(line)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestAvatar(t *testing.T) {
	if Avatar("Ada") != Avatar("Ada") {
		t.Error("Avatar is not stable for the same name")
	}
	if got := Avatar(""); got != avatars[0] {
		t.Errorf("Avatar(\"\") = %q, want %q", got, avatars[0])
	}
	if got := Avatar("A"); got != avatars[int('A')%len(avatars)] {
		t.Errorf("Avatar(\"A\") = %q", got)
	}
}

func TestSubmitSendsText(t *testing.T) {
	m, a := newTestModel(ChatOptions{Self: "Ada"})

	typeLine(m, "  hello  ")
	typeLine(m, "   ")
	if len(a.sent) != 1 || a.sent[0] != "hello" {
		t.Fatalf("sent = %q, want [hello]", a.sent)
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}

	a.sendErr = session.ErrNotInRoom
	typeLine(m, "again")
	last := m.lines[len(m.lines)-1]
	if !strings.Contains(last, session.ErrNotInRoom.Error()) {
		t.Errorf("last line = %q, want the send error", last)
	}
}

func TestCodeCommand(t *testing.T) {
	m, a := newTestModel(ChatOptions{})

	if cmd := typeLine(m, "/code"); cmd != nil {
		t.Error("/code without a token should not run anything")
	}
	cmd := typeLine(m, "/code abc123")
	if cmd == nil {
		t.Fatal("/code returned no command")
	}
	msg := cmd()
	if len(a.codes) != 1 || a.codes[0] != "abc123" {
		t.Fatalf("codes = %q, want [abc123]", a.codes)
	}
	if res, ok := msg.(commandResult); !ok || res.err != nil {
		t.Errorf("/code result = %#v, want a notice", msg)
	}
}

func TestWhoCommand(t *testing.T) {
	m, _ := newTestModel(ChatOptions{Self: "Ada"})

	cmd := typeLine(m, "/who")
	if cmd == nil {
		t.Fatal("/who returned no command")
	}
	m.Update(cmd())
	last := m.lines[len(m.lines)-1]
	if !strings.Contains(last, "Grace") || !strings.Contains(last, "(you)") {
		t.Errorf("roster = %q", last)
	}
}

func TestOfferTokensShownOnce(t *testing.T) {
	m, _ := newTestModel(ChatOptions{})

	m.Update(tokenEvent{kind: record.TypeOffer, token: "first"})
	m.Update(tokenEvent{kind: record.TypeOffer, token: "second"})

	joined := strings.Join(m.lines, "\n")
	if !strings.Contains(joined, "first") || strings.Contains(joined, "second") {
		t.Errorf("scrollback = %q, want only the first offer", joined)
	}
	if m.tokens[record.TypeOffer] != "second" {
		t.Errorf("latest offer = %q, want second", m.tokens[record.TypeOffer])
	}

	typeLine(m, "/token")
	if last := m.lines[len(m.lines)-1]; !strings.Contains(last, "second") {
		t.Errorf("/token printed %q, want the latest offer", last)
	}
}

func TestShowOfferTokens(t *testing.T) {
	m, _ := newTestModel(ChatOptions{ShowOfferTokens: true})

	m.Update(tokenEvent{kind: record.TypeOffer, token: "first"})
	m.Update(tokenEvent{kind: record.TypeOffer, token: "second"})

	if joined := strings.Join(m.lines, "\n"); !strings.Contains(joined, "second") {
		t.Errorf("scrollback = %q, want every offer", joined)
	}
}

func TestSessionEvents(t *testing.T) {
	m, _ := newTestModel(ChatOptions{Self: "Ada"})

	sent := time.Date(2024, 5, 1, 9, 7, 0, 0, time.Local)
	m.Update(messageEvent(chat.Message{Author: "Grace", Text: "hi", SentAt: sent}))
	m.Update(presenceEvent(3))
	m.Update(noticeEvent("Grace joined the chat"))

	if m.count != 3 {
		t.Errorf("count = %d, want 3", m.count)
	}
	if len(m.lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(m.lines))
	}
	if !strings.Contains(m.lines[0], "09:07") || !strings.Contains(m.lines[0], "hi") {
		t.Errorf("message line = %q", m.lines[0])
	}

	_, cmd := m.Update(errorEvent{err: errors.New("boom"), fatal: true})
	if cmd == nil || m.fatal == nil {
		t.Error("fatal error did not end the screen")
	}
}

func TestScrollbackCapped(t *testing.T) {
	m, _ := newTestModel(ChatOptions{})
	for i := 0; i < maxScrollback+10; i++ {
		m.append("line")
	}
	if len(m.lines) != maxScrollback {
		t.Errorf("kept %d lines, want %d", len(m.lines), maxScrollback)
	}
}
