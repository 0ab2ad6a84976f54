package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpchat/internal/config"
	"github.com/BioHazard786/warpchat/internal/negotiator"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/relay"
	"github.com/BioHazard786/warpchat/internal/room"
	"github.com/BioHazard786/warpchat/internal/store"
)

func newDirectory() (*room.Directory, *store.Memory) {
	mem := store.NewMemory()
	return room.New(mem, 20*time.Millisecond, quietLogger()), mem
}

// storedOffer returns the offer token currently in the directory.
func storedOffer(mem *store.Memory, code string) string {
	v, err := mem.Get(context.Background(), room.OfferKey(code))
	if err != nil {
		return ""
	}
	return string(v)
}

func TestCreateAndJoinThroughDirectory(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	dir, mem := newDirectory()

	adaUI := newRecorder()
	creator := start(t, adaUI, Options{Directory: dir, NewTransport: net.transport})
	code, err := creator.CreateRoom(ctx, "Ada")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := room.ValidateCode(code); err != nil {
		t.Fatalf("room code %q: %v", code, err)
	}
	eventually(t, "offer in directory", func() bool { return storedOffer(mem, code) != "" })

	graceUI := newRecorder()
	joiner := start(t, graceUI, Options{Directory: dir, NewTransport: net.transport})
	if err := joiner.JoinRoom(ctx, "Grace", code); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	eventually(t, "creator sees joiner", func() bool { return adaUI.HasNotice("Grace joined the chat") })
	eventually(t, "joiner sees creator", func() bool { return graceUI.HasNotice("Ada joined the chat") })
	if adaUI.Count() != 2 || graceUI.Count() != 2 {
		t.Errorf("counts = %d, %d; want 2, 2", adaUI.Count(), graceUI.Count())
	}

	if err := creator.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	eventually(t, "joiner receives hello", func() bool { return len(graceUI.Received("Grace")) == 1 })
	got := graceUI.Received("Grace")[0]
	if got.ID != 0 || got.Author != "Ada" || got.Text != "hello" {
		t.Errorf("joiner received %+v", got)
	}

	if err := joiner.SendText("  hi there  "); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	eventually(t, "creator receives hi", func() bool { return len(adaUI.Received("Ada")) == 1 })
	if got := adaUI.Received("Ada")[0]; got.Author != "Grace" || got.Text != "hi there" {
		t.Errorf("creator received %+v", got)
	}

	info, err := creator.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode != ModeCreator || info.Code != code || info.Links != 1 {
		t.Errorf("creator info = %+v", info)
	}
	if strings.Join(info.Members, ",") != "Ada,Grace" {
		t.Errorf("members = %v", info.Members)
	}
}

func TestCreatorForwardsBetweenJoiners(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	dir, mem := newDirectory()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{Directory: dir, NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Host")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	eventually(t, "first offer published", func() bool { return storedOffer(mem, code) != "" })

	oneUI := newRecorder()
	one := start(t, oneUI, Options{Directory: dir, NewTransport: net.transport})
	if err := one.JoinRoom(ctx, "One", code); err != nil {
		t.Fatalf("JoinRoom one: %v", err)
	}
	eventually(t, "first joiner connected", func() bool { return hostUI.HasNotice("One joined the chat") })

	// Wait for the replacement offer before the second joiner looks.
	eventually(t, "second offer published", func() bool {
		offers := hostUI.Tokens(record.TypeOffer)
		return len(offers) == 2 && storedOffer(mem, code) == offers[1]
	})

	twoUI := newRecorder()
	two := start(t, twoUI, Options{Directory: dir, NewTransport: net.transport})
	if err := two.JoinRoom(ctx, "Two", code); err != nil {
		t.Fatalf("JoinRoom two: %v", err)
	}
	eventually(t, "second joiner connected", func() bool { return hostUI.HasNotice("Two joined the chat") })
	if hostUI.Count() != 3 {
		t.Errorf("host count = %d, want 3", hostUI.Count())
	}

	if err := two.SendText("from two"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "first joiner receives forwarded message", func() bool { return len(oneUI.Received("One")) == 1 })
	if got := oneUI.Received("One")[0]; got.Author != "Two" || got.Text != "from two" {
		t.Errorf("forwarded message = %+v", got)
	}
	eventually(t, "host receives message", func() bool { return len(hostUI.Received("Host")) == 1 })
	if n := len(twoUI.Received("Two")); n != 0 {
		t.Errorf("sender received %d copies of its own message", n)
	}
}

func TestJoinersSeeEachOther(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	dir, mem := newDirectory()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{Directory: dir, NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Host")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	eventually(t, "first offer published", func() bool { return storedOffer(mem, code) != "" })

	oneUI := newRecorder()
	one := start(t, oneUI, Options{Directory: dir, NewTransport: net.transport})
	if err := one.JoinRoom(ctx, "One", code); err != nil {
		t.Fatalf("JoinRoom one: %v", err)
	}
	eventually(t, "one connected", func() bool { return oneUI.HasNotice("Host joined the chat") })
	eventually(t, "second offer published", func() bool {
		offers := hostUI.Tokens(record.TypeOffer)
		return len(offers) == 2 && storedOffer(mem, code) == offers[1]
	})

	twoUI := newRecorder()
	two := start(t, twoUI, Options{Directory: dir, NewTransport: net.transport})
	if err := two.JoinRoom(ctx, "Two", code); err != nil {
		t.Fatalf("JoinRoom two: %v", err)
	}

	eventually(t, "one hears about two", func() bool { return oneUI.HasNotice("Two joined the chat") })
	eventually(t, "one counts three", func() bool { return oneUI.Count() == 3 })
	eventually(t, "two gets the roster", func() bool { return twoUI.Count() == 3 })
	if twoUI.HasNotice("One joined the chat") {
		t.Error("members already in the room should be added without a join notice")
	}
	info, err := two.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(info.Members, ","); got != "Host,One,Two" {
		t.Errorf("two's members = %q, want Host,One,Two", got)
	}

	two.Close()
	eventually(t, "one hears two leave", func() bool { return oneUI.HasNotice("Two left the chat") })
	eventually(t, "one counts two", func() bool { return oneUI.Count() == 2 })
	if hostUI.Count() != 2 {
		t.Errorf("host count = %d, want 2", hostUI.Count())
	}

	host.Close()
	eventually(t, "one alone", func() bool { return oneUI.Count() == 1 })
	if !oneUI.HasNotice("Host left the chat") {
		t.Error("missing leave notice for the host")
	}
}

func TestManualTokenExchange(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Ada")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(hostUI.Tokens(record.TypeOffer)) != 1 {
		t.Fatalf("offer tokens = %d, want 1", len(hostUI.Tokens(record.TypeOffer)))
	}

	guestUI := newRecorder()
	guest := start(t, guestUI, Options{NewTransport: net.transport})
	joined := make(chan error, 1)
	go func() { joined <- guest.JoinRoom(ctx, "Grace", code) }()

	eventually(t, "join request token", func() bool { return guestUI.LastToken(record.TypeRequest) != "" })

	// A request makes the creator show its current offer again.
	if err := host.SubmitManualCode(ctx, guestUI.LastToken(record.TypeRequest)); err != nil {
		t.Fatalf("submit request: %v", err)
	}
	offers := hostUI.Tokens(record.TypeOffer)
	if len(offers) != 2 || offers[0] != offers[1] {
		t.Fatalf("offer tokens after request = %d", len(offers))
	}

	if err := guest.SubmitManualCode(ctx, "not a token"); !errors.Is(err, record.ErrMalformedToken) {
		t.Errorf("garbage token error = %v, want ErrMalformedToken", err)
	}
	wrongRoom, _ := record.Encode(record.New(record.TypeOffer, otherCode(code), "x", "someone"))
	if err := guest.SubmitManualCode(ctx, wrongRoom); !errors.Is(err, ErrRoomMismatch) {
		t.Errorf("wrong room error = %v, want ErrRoomMismatch", err)
	}

	if err := guest.SubmitManualCode(ctx, offers[1]); err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("JoinRoom did not return")
	}

	answer := guestUI.LastToken(record.TypeAnswer)
	if answer == "" {
		t.Fatal("no answer token shown")
	}
	if err := host.SubmitManualCode(ctx, answer); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if err := host.SubmitManualCode(ctx, answer); !errors.Is(err, negotiator.ErrDuplicateAnswer) {
		t.Errorf("second answer error = %v, want ErrDuplicateAnswer", err)
	}

	eventually(t, "link open", func() bool { return hostUI.HasNotice("Grace joined the chat") })
	if err := guest.SendText("manual works"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "message over manual link", func() bool { return len(hostUI.Received("Ada")) == 1 })
}

func otherCode(code string) string {
	if code == "1000" {
		return "1001"
	}
	return "1000"
}

func TestStaleAnswerIgnored(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Ada")
	if err != nil {
		t.Fatal(err)
	}

	stale := record.New(record.TypeAnswer, code, "answer-x", "late")
	stale.InReplyTo = "offer/" + code + "/someone-else/1"
	token, _ := record.Encode(stale)
	if err := host.SubmitManualCode(ctx, token); !errors.Is(err, negotiator.ErrStaleAnswer) {
		t.Errorf("stale answer error = %v, want ErrStaleAnswer", err)
	}
	if len(hostUI.Tokens(record.TypeOffer)) != 1 {
		t.Error("stale answer consumed the current offer")
	}
}

func TestJoinWithoutOfferTimesOut(t *testing.T) {
	ui := newRecorder()
	s := start(t, ui, Options{NewTransport: newFakeNet().transport, ManualTimeout: 50 * time.Millisecond})

	err := s.JoinRoom(context.Background(), "Grace", "4821")
	if !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("JoinRoom error = %v, want ErrRoomNotFound", err)
	}
	eventually(t, "join request token", func() bool { return ui.LastToken(record.TypeRequest) != "" })
	eventually(t, "session back to idle", func() bool {
		info, err := s.Info(context.Background())
		return err == nil && info.Mode == ModeIdle
	})
}

func TestJoinValidatesInput(t *testing.T) {
	s := start(t, newRecorder(), Options{NewTransport: newFakeNet().transport})
	ctx := context.Background()

	if err := s.JoinRoom(ctx, "Grace", "12a4"); !errors.Is(err, room.ErrInvalidRoomCode) {
		t.Errorf("bad code error = %v", err)
	}
	if err := s.JoinRoom(ctx, "   ", "1234"); err == nil {
		t.Error("blank name accepted")
	}
	if _, err := s.CreateRoom(ctx, strings.Repeat("x", 21)); err == nil {
		t.Error("long name accepted")
	}
}

func TestSendTextOutsideRoom(t *testing.T) {
	s := start(t, newRecorder(), Options{NewTransport: newFakeNet().transport})
	if err := s.SendText("hello"); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("SendText error = %v, want ErrNotInRoom", err)
	}
	if err := s.SubmitManualCode(context.Background(), mustToken(t, record.TypeOffer, "1234")); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("SubmitManualCode error = %v, want ErrNotInRoom", err)
	}
}

func mustToken(t *testing.T, typ record.Type, code string) string {
	t.Helper()
	token, err := record.Encode(record.New(typ, code, "sdp", "peer"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestTransportUnavailable(t *testing.T) {
	net := newFakeNet()
	net.fail = errors.New("no sctp for you")
	s := start(t, newRecorder(), Options{NewTransport: net.transport})

	_, err := s.CreateRoom(context.Background(), "Ada")
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("CreateRoom error = %v, want ErrTransportUnavailable", err)
	}
	var opErr *Error
	if !errors.As(err, &opErr) || opErr.Op != "create room" {
		t.Errorf("error %v is not a create room *Error", err)
	}

	// The session is usable again afterwards.
	eventually(t, "session back to idle", func() bool {
		info, err := s.Info(context.Background())
		return err == nil && info.Mode == ModeIdle
	})
}

func TestLeaveNotifiesPeer(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	dir, mem := newDirectory()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{Directory: dir, NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Ada")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "offer published", func() bool { return storedOffer(mem, code) != "" })

	guest := New(newRecorder(), Options{Directory: dir, NewTransport: net.transport, Logger: quietLogger()})
	go guest.Run(ctx)
	if err := guest.JoinRoom(ctx, "Grace", code); err != nil {
		t.Fatal(err)
	}
	eventually(t, "guest connected", func() bool { return hostUI.Count() == 2 })

	guest.Close()
	eventually(t, "leave notice", func() bool { return hostUI.HasNotice("Grace left the chat") })
	eventually(t, "count back to one", func() bool { return hostUI.Count() == 1 })
	if n := hostUI.NoticeCount("left the chat"); n != 1 {
		t.Errorf("leave notices = %d, want 1", n)
	}
}

func TestDefaultNegotiationTimeout(t *testing.T) {
	if DefaultNegotiationTimeout != config.DefaultNegotiationTimeout {
		t.Errorf("session default %s differs from config default %s", DefaultNegotiationTimeout, config.DefaultNegotiationTimeout)
	}
	s := New(newRecorder(), Options{Logger: quietLogger()})
	if s.opts.NegotiationTimeout != DefaultNegotiationTimeout {
		t.Errorf("New left NegotiationTimeout = %s, want %s", s.opts.NegotiationTimeout, DefaultNegotiationTimeout)
	}
}

func TestNegotiationTimeout(t *testing.T) {
	ctx := context.Background()
	net := newFakeNet()
	net.stall = true
	dir, mem := newDirectory()

	hostUI := newRecorder()
	host := start(t, hostUI, Options{Directory: dir, NewTransport: net.transport})
	code, err := host.CreateRoom(ctx, "Ada")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "offer published", func() bool { return storedOffer(mem, code) != "" })

	guestUI := newRecorder()
	guest := start(t, guestUI, Options{Directory: dir, NewTransport: net.transport, NegotiationTimeout: 50 * time.Millisecond})
	if err := guest.JoinRoom(ctx, "Grace", code); err != nil {
		t.Fatal(err)
	}

	eventually(t, "timeout notice", func() bool { return guestUI.HasNotice("timed out") })
	eventually(t, "guest link dropped", func() bool {
		info, err := guest.Info(ctx)
		return err == nil && info.Links == 0 && info.Mode == ModeJoiner
	})
	if hostUI.Count() != 1 || guestUI.Count() != 1 {
		t.Errorf("counts = %d, %d; want 1, 1", hostUI.Count(), guestUI.Count())
	}
}

func TestRelaySession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := relay.NewHub(quietLogger())
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewMux(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	adaUI := newRecorder()
	ada := start(t, adaUI, Options{})
	if err := ada.JoinRelay(ctx, "Ada", url); err != nil {
		t.Fatalf("JoinRelay: %v", err)
	}

	graceUI := newRecorder()
	grace := New(graceUI, Options{Logger: quietLogger()})
	go grace.Run(ctx)
	if err := grace.JoinRelay(ctx, "Grace", url); err != nil {
		t.Fatalf("JoinRelay: %v", err)
	}

	eventually(t, "ada sees grace", func() bool { return adaUI.HasNotice("Grace joined the chat") })
	eventually(t, "grace sees ada", func() bool { return graceUI.Count() == 2 })
	if graceUI.HasNotice("Ada joined the chat") {
		t.Error("users already present were announced as joining")
	}

	if err := grace.SendText("over the relay"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "ada receives", func() bool { return len(adaUI.Received("Ada")) == 1 })
	if got := adaUI.Received("Ada")[0]; got.Author != "Grace" || got.Text != "over the relay" || got.SentAt.IsZero() {
		t.Errorf("ada received %+v", got)
	}

	grace.Close()
	eventually(t, "ada sees grace leave", func() bool { return adaUI.HasNotice("Grace left the chat") })
	if adaUI.Count() != 1 {
		t.Errorf("count after leave = %d, want 1", adaUI.Count())
	}
}
