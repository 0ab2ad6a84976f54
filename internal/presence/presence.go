// Package presence keeps the roster of participants reachable from this
// one, keyed by link (or relay connection) id.
//
// A Tracker is owned by a single event loop and is not safe for concurrent
// use.
package presence

import "sort"

// Placeholder is shown for a peer whose link is open but who has not
// announced a name yet.
const Placeholder = "Anonymous"

// Notifier receives roster changes.
type Notifier interface {
	Joined(name string)
	Left(name string)
	CountChanged(count int)
}

type member struct {
	name      string
	announced bool
}

type Tracker struct {
	self     string
	started  bool
	members  map[string]*member
	notifier Notifier
}

func New(selfName string, notifier Notifier) *Tracker {
	return &Tracker{
		self:     selfName,
		members:  make(map[string]*member),
		notifier: notifier,
	}
}

// Start puts the local participant on the roster. Calling it again has no
// effect.
func (t *Tracker) Start() {
	if t.started {
		return
	}
	t.started = true
	t.countChanged()
}

// LinkOpened adds a placeholder member for id.
func (t *Tracker) LinkOpened(id string) {
	if _, ok := t.members[id]; ok {
		return
	}
	t.members[id] = &member{name: Placeholder}
	t.countChanged()
}

// JoinAnnouncement records the name a peer announced over link id. A join
// notice is raised the first time, unless the name is our own.
func (t *Tracker) JoinAnnouncement(id, name string) {
	m, ok := t.members[id]
	if !ok {
		m = &member{}
		t.members[id] = m
		defer t.countChanged()
	}
	first := !m.announced
	m.name = name
	m.announced = true

	if first && name != t.self && t.notifier != nil {
		t.notifier.Joined(name)
	}
}

// Add records a participant who was already present before we arrived.
// No join notice is raised.
func (t *Tracker) Add(id, name string) {
	if _, ok := t.members[id]; ok {
		return
	}
	t.members[id] = &member{name: name, announced: true}
	t.countChanged()
}

// LinkClosed removes id from the roster and raises a leave notice.
func (t *Tracker) LinkClosed(id string) {
	m, ok := t.members[id]
	if !ok {
		return
	}
	delete(t.members, id)
	if t.notifier != nil {
		t.notifier.Left(m.name)
	}
	t.countChanged()
}

// Count is the number of participants including ourselves once started.
func (t *Tracker) Count() int {
	n := len(t.members)
	if t.started {
		n++
	}
	return n
}

// Name returns the display name for id.
func (t *Tracker) Name(id string) (string, bool) {
	m, ok := t.members[id]
	if !ok {
		return "", false
	}
	return m.name, true
}

// Names returns every name on the roster, ourselves included, sorted.
func (t *Tracker) Names() []string {
	names := make([]string, 0, t.Count())
	if t.started {
		names = append(names, t.self)
	}
	for _, m := range t.members {
		names = append(names, m.name)
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) countChanged() {
	if t.notifier != nil {
		t.notifier.CountChanged(t.Count())
	}
}
