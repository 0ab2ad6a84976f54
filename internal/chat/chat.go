// Package chat turns typed text into chat messages and hands them to the
// renderer and the network.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxNameLength = 20

var (
	ErrNameEmpty   = errors.New("name cannot be empty")
	ErrNameTooLong = errors.New("name must be 20 characters or less")
)

// Message is one chat line. ID counts up from zero per author; it is not
// unique across authors.
type Message struct {
	ID     uint64
	Author string
	Text   string
	SentAt time.Time
}

// Transport publishes a message to every reachable peer and returns how
// many were reached.
type Transport interface {
	Publish(msg Message) int
}

// Renderer displays a message locally.
type Renderer func(msg Message)

// Broadcaster is owned by the session event loop and is not safe for
// concurrent use.
type Broadcaster struct {
	author    string
	next      uint64
	transport Transport
	render    Renderer
	now       func() time.Time
}

func New(author string, transport Transport, render Renderer) *Broadcaster {
	return &Broadcaster{
		author:    author,
		transport: transport,
		render:    render,
		now:       time.Now,
	}
}

func (b *Broadcaster) Author() string {
	return b.author
}

// Send trims text and, if anything is left, renders it locally and then
// publishes it. Blank input is ignored and consumes no id.
func (b *Broadcaster) Send(text string) (Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}

	msg := Message{
		ID:     b.next,
		Author: b.author,
		Text:   text,
		SentAt: b.now(),
	}
	b.next++

	if b.render != nil {
		b.render(msg)
	}
	if b.transport != nil {
		b.transport.Publish(msg)
	}
	return msg, true
}

// Receive renders an inbound message. Messages are shown in arrival order
// and repeats are shown again.
func (b *Broadcaster) Receive(msg Message) {
	if b.render != nil {
		b.render(msg)
	}
}

// ValidateName trims name and checks it is usable as a display name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}
