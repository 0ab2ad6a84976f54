package presence

import (
	"fmt"
	"testing"
)

type events struct {
	joined []string
	left   []string
	counts []int
}

func (e *events) Joined(name string)     { e.joined = append(e.joined, name) }
func (e *events) Left(name string)       { e.left = append(e.left, name) }
func (e *events) CountChanged(count int) { e.counts = append(e.counts, count) }

func TestStartIsIdempotent(t *testing.T) {
	ev := &events{}
	tr := New("Ada", ev)
	tr.Start()
	tr.Start()
	if tr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tr.Count())
	}
	if len(ev.counts) != 1 {
		t.Errorf("CountChanged fired %d times", len(ev.counts))
	}
}

func TestCountTracksOpenedMinusClosed(t *testing.T) {
	tests := []struct{ opened, closed int }{
		{0, 0}, {1, 0}, {3, 1}, {5, 5}, {4, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.opened, tt.closed), func(t *testing.T) {
			tr := New("self", nil)
			tr.Start()
			for i := 0; i < tt.opened; i++ {
				tr.LinkOpened(fmt.Sprintf("link-%d", i))
			}
			for i := 0; i < tt.closed; i++ {
				tr.LinkClosed(fmt.Sprintf("link-%d", i))
			}
			if want := 1 + tt.opened - tt.closed; tr.Count() != want {
				t.Errorf("Count = %d, want %d", tr.Count(), want)
			}
		})
	}
}

func TestJoinAndLeaveNotices(t *testing.T) {
	ev := &events{}
	tr := New("Ada", ev)
	tr.Start()

	tr.LinkOpened("l1")
	if name, _ := tr.Name("l1"); name != Placeholder {
		t.Errorf("name before announcement = %q", name)
	}
	tr.JoinAnnouncement("l1", "Grace")
	tr.JoinAnnouncement("l1", "Grace")

	if len(ev.joined) != 1 || ev.joined[0] != "Grace" {
		t.Fatalf("joined = %v, want [Grace]", ev.joined)
	}
	if name, _ := tr.Name("l1"); name != "Grace" {
		t.Errorf("name = %q", name)
	}

	tr.LinkClosed("l1")
	tr.LinkClosed("l1")
	if len(ev.left) != 1 || ev.left[0] != "Grace" {
		t.Errorf("left = %v, want [Grace]", ev.left)
	}

	want := []int{1, 2, 1}
	if fmt.Sprint(ev.counts) != fmt.Sprint(want) {
		t.Errorf("counts = %v, want %v", ev.counts, want)
	}
}

func TestOwnNameIsNotAnnounced(t *testing.T) {
	ev := &events{}
	tr := New("Ada", ev)
	tr.Start()
	tr.LinkOpened("l1")
	tr.JoinAnnouncement("l1", "Ada")

	if len(ev.joined) != 0 {
		t.Errorf("join notice raised for own name: %v", ev.joined)
	}
	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}
}

func TestUnannouncedPeerLeavesAsPlaceholder(t *testing.T) {
	ev := &events{}
	tr := New("Ada", ev)
	tr.Start()
	tr.LinkOpened("l1")
	tr.LinkClosed("l1")
	if len(ev.left) != 1 || ev.left[0] != Placeholder {
		t.Errorf("left = %v", ev.left)
	}
}

func TestNames(t *testing.T) {
	tr := New("Mallory", nil)
	tr.Start()
	tr.LinkOpened("a")
	tr.JoinAnnouncement("a", "Bob")
	tr.JoinAnnouncement("b", "Alice")

	got := fmt.Sprint(tr.Names())
	if got != "[Alice Bob Mallory]" {
		t.Errorf("Names = %s", got)
	}
	if tr.Count() != 3 {
		t.Errorf("Count = %d", tr.Count())
	}
}

func TestAddIsSilent(t *testing.T) {
	ev := &events{}
	tr := New("Ada", ev)
	tr.Start()
	tr.Add("r1", "Grace")
	tr.Add("r1", "Grace")

	if len(ev.joined) != 0 {
		t.Errorf("Add raised join notices %v", ev.joined)
	}
	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}

	tr.JoinAnnouncement("r1", "Grace")
	if len(ev.joined) != 0 {
		t.Errorf("re-announcement raised %v", ev.joined)
	}

	tr.LinkClosed("r1")
	if len(ev.left) != 1 || ev.left[0] != "Grace" {
		t.Errorf("left = %v", ev.left)
	}
}
