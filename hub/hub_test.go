package hub

import (
	"strings"
	"testing"

	"watchparty/models"
)

// next pops the oldest queued message; hub calls queue synchronously, so an
// empty outbox is an assertion failure, not a race.
func next(t *testing.T, o *Outbox) models.Message {
	t.Helper()
	select {
	case msg := <-o.Messages():
		return msg
	default:
		t.Fatal("expected a queued message, outbox is empty")
		return models.Message{}
	}
}

func none(t *testing.T, o *Outbox) {
	t.Helper()
	select {
	case msg := <-o.Messages():
		t.Fatalf("expected empty outbox, found %q", msg.Type)
	default:
	}
}

func drain(o *Outbox) {
	for {
		select {
		case <-o.Messages():
		default:
			return
		}
	}
}

func kicked(o *Outbox) bool {
	select {
	case <-o.Kicked():
		return true
	default:
		return false
	}
}

func mustCreate(t *testing.T, h *Hub, hostID, name string) (string, *Outbox) {
	t.Helper()
	out := NewOutbox(32)
	snap, err := h.Create(hostID, name, 1, out)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if msg := next(t, out); msg.Type != models.TypeJoined {
		t.Fatalf("host's first message is %q, want joined", msg.Type)
	}
	return snap.Code, out
}

func mustJoin(t *testing.T, h *Hub, code, id, name string) *Outbox {
	t.Helper()
	out := NewOutbox(32)
	if _, err := h.Join(code, id, name, out); err != nil {
		t.Fatalf("Join(%s, %s): %v", code, id, err)
	}
	if msg := next(t, out); msg.Type != models.TypeJoined {
		t.Fatalf("joiner's first message is %q, want joined", msg.Type)
	}
	return out
}

func TestCreateSession(t *testing.T) {
	h := New(4, 4)
	out := NewOutbox(8)
	snap, err := h.Create("host-1", "Host", 2, out)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(snap.Code) != codeLength || snap.Code != strings.ToUpper(snap.Code) {
		t.Fatalf("bad code %q", snap.Code)
	}
	if snap.HostID != "host-1" || snap.ProtocolVersion != 2 {
		t.Fatalf("bad snapshot %+v", snap)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].ID != "host-1" {
		t.Fatalf("host is not the sole participant: %+v", snap.Participants)
	}

	msg := next(t, out)
	if msg.Type != models.TypeJoined || msg.Session == nil || msg.Session.Code != snap.Code {
		t.Fatalf("host did not receive joined first: %+v", msg)
	}
}

func TestJoinCodeUniqueness(t *testing.T) {
	h := New(200, 4)
	codes := make(map[string]bool)
	for i := 0; i < 100; i++ {
		snap, err := h.Create("host", "Host", 1, NewOutbox(4))
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if codes[snap.Code] {
			t.Fatalf("duplicate code %q across live sessions", snap.Code)
		}
		codes[snap.Code] = true
	}
}

func TestSessionCapacity(t *testing.T) {
	h := New(1, 4)
	mustCreate(t, h, "host-1", "Host")
	if _, err := h.Create("host-2", "Other", 1, NewOutbox(4)); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestJoinSession(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")

	t.Run("codes are case-insensitive and both sides see the roster", func(t *testing.T) {
		out := NewOutbox(32)
		snap, err := h.Join(strings.ToLower(code), "peer-1", "Peer", out)
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
		if len(snap.Participants) != 2 {
			t.Fatalf("joiner sees %d participants, want 2", len(snap.Participants))
		}
		if snap.Participants[0].ID != "host-1" || snap.Participants[1].ID != "peer-1" {
			t.Fatalf("roster not in join order: %+v", snap.Participants)
		}

		joined := next(t, out)
		if joined.Type != models.TypeJoined || len(joined.Session.Participants) != 2 {
			t.Fatalf("bad joined reply: %+v", joined)
		}
		notice := next(t, hostOut)
		if notice.Type != models.TypeParticipantJoined || notice.Participant.ID != "peer-1" {
			t.Fatalf("host notice: %+v", notice)
		}
		if len(notice.Session.Participants) != 2 {
			t.Fatalf("host roster has %d members, want 2", len(notice.Session.Participants))
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, err := h.Join("ZZZZ", "p", "P", NewOutbox(4)); err != ErrSessionNotFound {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("session full", func(t *testing.T) {
		full := New(4, 2)
		c, _ := mustCreate(t, full, "h", "H")
		mustJoin(t, full, c, "p1", "P1")
		if _, err := full.Join(c, "p2", "P2", NewOutbox(4)); err != ErrSessionFull {
			t.Fatalf("expected ErrSessionFull, got %v", err)
		}
	})
}

func TestRejoinIsIdempotent(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	first := mustJoin(t, h, code, "peer-1", "Peer")
	drain(hostOut)

	second := NewOutbox(32)
	snap, err := h.Join(code, "peer-1", "Peer", second)
	if err != nil {
		t.Fatalf("rejoin errored: %v", err)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("rejoin changed roster size: %+v", snap.Participants)
	}
	if !kicked(first) {
		t.Fatal("stale connection was not kicked")
	}
	if msg := next(t, second); msg.Type != models.TypeJoined {
		t.Fatalf("rejoin reply is %q, want joined", msg.Type)
	}
	// No participantJoined broadcast for a rejoin.
	none(t, hostOut)
}

func TestStaleTeardownAfterRejoin(t *testing.T) {
	t.Run("stale connection cannot evict the rebound membership", func(t *testing.T) {
		h := New(4, 4)
		stale := NewOutbox(32)
		snap, err := h.Create("host-1", "Host", 1, stale)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		code := snap.Code
		drain(stale)

		fresh := NewOutbox(32)
		if _, err := h.Join(code, "host-1", "Host", fresh); err != nil {
			t.Fatalf("rejoin: %v", err)
		}
		drain(fresh)

		// The stale connection's read loop now exits and its teardown
		// fires, scoped to the connection it owned.
		h.Leave(code, "host-1", false, stale)

		got, ok := h.Snapshot(code)
		if !ok {
			t.Fatal("stale teardown destroyed the rejoined session")
		}
		if len(got.Participants) != 1 || got.Participants[0].ID != "host-1" {
			t.Fatalf("stale teardown evicted the rejoined membership: %+v", got.Participants)
		}
		if kicked(fresh) {
			t.Fatal("stale teardown kicked the fresh connection")
		}

		// The current connection's teardown still removes the membership.
		h.Leave(code, "host-1", false, fresh)
		if _, ok := h.Snapshot(code); ok {
			t.Fatal("owning connection's teardown did not evict")
		}
	})

	t.Run("an explicit leave is unconditional", func(t *testing.T) {
		h := New(4, 4)
		code, hostOut := mustCreate(t, h, "host-1", "Host")
		mustJoin(t, h, code, "peer-1", "Peer")
		drain(hostOut)

		h.Leave(code, "peer-1", false, nil)

		got, _ := h.Snapshot(code)
		if len(got.Participants) != 1 {
			t.Fatalf("explicit leave did not evict: %+v", got.Participants)
		}
	})
}

func TestHostSuccession(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	xOut := mustJoin(t, h, code, "peer-x", "X")
	yOut := mustJoin(t, h, code, "peer-y", "Y")
	drain(hostOut)
	drain(xOut)
	drain(yOut)

	h.Leave(code, "host-1", false, nil)

	snap, ok := h.Snapshot(code)
	if !ok {
		t.Fatal("session dissolved on plain host leave")
	}
	if snap.HostID != "peer-x" {
		t.Fatalf("host is %q, want earliest-joined peer-x", snap.HostID)
	}

	if msg := next(t, xOut); msg.Type != models.TypeParticipantLeft || msg.Participant.ID != "host-1" {
		t.Fatalf("expected participantLeft for host, got %+v", msg)
	}
	if msg := next(t, xOut); msg.Type != models.TypeHostChanged || msg.HostID != "peer-x" {
		t.Fatalf("expected hostChanged to peer-x, got %+v", msg)
	}
	if !kicked(hostOut) {
		t.Fatal("leaver's connection was not released")
	}
}

func TestEndForAll(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	peerOut := mustJoin(t, h, code, "peer-1", "Peer")
	drain(hostOut)

	h.Leave(code, "host-1", true, nil)

	if msg := next(t, peerOut); msg.Type != models.TypeSessionEnded || msg.Reason != models.ReasonEndedByHost {
		t.Fatalf("expected sessionEnded(EndedByHost), got %+v", msg)
	}
	if !kicked(peerOut) {
		t.Fatal("remaining participant was not evicted")
	}
	if _, ok := h.Snapshot(code); ok {
		t.Fatal("session survived endForAll")
	}
	if _, err := h.Join(code, "late", "Late", NewOutbox(4)); err != ErrSessionNotFound {
		t.Fatalf("join after dissolve: %v, want ErrSessionNotFound", err)
	}
}

func TestNonHostEndForAllIsPlainLeave(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	mustJoin(t, h, code, "peer-1", "Peer")
	drain(hostOut)

	h.Leave(code, "peer-1", true, nil)

	snap, ok := h.Snapshot(code)
	if !ok {
		t.Fatal("non-host endForAll dissolved the session")
	}
	if snap.HostID != "host-1" || len(snap.Participants) != 1 {
		t.Fatalf("unexpected state after non-host leave: %+v", snap)
	}
}

func TestLastParticipantLeaving(t *testing.T) {
	t.Run("last non-host leaving keeps the session", func(t *testing.T) {
		h := New(4, 4)
		code, hostOut := mustCreate(t, h, "host-1", "Host")
		mustJoin(t, h, code, "peer-1", "Peer")
		drain(hostOut)

		h.Leave(code, "peer-1", false, nil)
		if _, ok := h.Snapshot(code); !ok {
			t.Fatal("session vanished while the host remains")
		}
	})

	t.Run("emptied session is destroyed", func(t *testing.T) {
		h := New(4, 4)
		code, _ := mustCreate(t, h, "host-1", "Host")
		h.Leave(code, "host-1", false, nil)
		if _, ok := h.Snapshot(code); ok {
			t.Fatal("empty session still registered")
		}
	})
}

func TestSetReady(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	peerOut := mustJoin(t, h, code, "peer-1", "Peer")
	drain(hostOut)

	if err := h.SetReady(code, "peer-1", true); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	for _, out := range []*Outbox{hostOut, peerOut} {
		msg := next(t, out)
		if msg.Type != models.TypeParticipantUpdated || msg.Participant.ID != "peer-1" || !msg.Participant.IsReady {
			t.Fatalf("bad readiness broadcast: %+v", msg)
		}
	}

	t.Run("unknown participant in a live session", func(t *testing.T) {
		if err := h.SetReady(code, "stranger", true); err != ErrNotInSession {
			t.Fatalf("expected ErrNotInSession, got %v", err)
		}
	})
}

func TestStartPlayback(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	peerOut := mustJoin(t, h, code, "peer-1", "Peer")
	drain(hostOut)

	t.Run("non-host is refused", func(t *testing.T) {
		if err := h.StartPlayback(code, "peer-1"); err != ErrNotHost {
			t.Fatalf("expected ErrNotHost, got %v", err)
		}
		none(t, hostOut)
	})

	t.Run("unready participant blocks the start", func(t *testing.T) {
		if err := h.StartPlayback(code, "host-1"); err != ErrNotAllReady {
			t.Fatalf("expected ErrNotAllReady, got %v", err)
		}
		none(t, peerOut)
	})

	t.Run("all ready starts for everyone", func(t *testing.T) {
		h.SetReady(code, "host-1", true)
		h.SetReady(code, "peer-1", true)
		drain(hostOut)
		drain(peerOut)

		if err := h.StartPlayback(code, "host-1"); err != nil {
			t.Fatalf("StartPlayback: %v", err)
		}
		for _, out := range []*Outbox{hostOut, peerOut} {
			if msg := next(t, out); msg.Type != models.TypePlaybackStarted {
				t.Fatalf("expected playbackStarted, got %q", msg.Type)
			}
		}
	})
}

func TestPublish(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")
	xOut := mustJoin(t, h, code, "peer-x", "X")
	yOut := mustJoin(t, h, code, "peer-y", "Y")
	drain(hostOut)
	drain(xOut)

	t.Run("fan-out skips the sender and stamps a copy", func(t *testing.T) {
		ev, err := models.NewSeekEvent("peer-x", 42.5)
		if err != nil {
			t.Fatalf("NewSeekEvent: %v", err)
		}
		if err := h.Publish(code, "peer-x", ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		for _, out := range []*Outbox{hostOut, yOut} {
			msg := next(t, out)
			if msg.Type != models.TypeEvent || msg.Event == nil {
				t.Fatalf("expected relayed event, got %+v", msg)
			}
			if *msg.Event.PositionSeconds != 42.5 {
				t.Fatalf("position changed in relay: %+v", msg.Event)
			}
			if msg.Event.ServerReceivedAtMs == 0 {
				t.Fatal("relayed event missing server stamp")
			}
			if msg.Sender != "X" {
				t.Fatalf("relayed event names sender %q, want X", msg.Sender)
			}
		}
		none(t, xOut)
		if ev.ServerReceivedAtMs != 0 {
			t.Fatal("sender's original event was mutated")
		}
	})

	t.Run("an existing stamp is preserved", func(t *testing.T) {
		ev := models.NewPauseEvent("peer-x")
		ev.ServerReceivedAtMs = 777
		h.Publish(code, "peer-x", ev)
		if msg := next(t, yOut); msg.Event.ServerReceivedAtMs != 777 {
			t.Fatalf("stamp overwritten: %+v", msg.Event)
		}
		drain(hostOut)
	})

	t.Run("malformed events are dropped, not relayed", func(t *testing.T) {
		bad := models.Event{EventID: "e-bad", SenderID: "peer-x", Type: models.EventSeek}
		if err := h.Publish(code, "peer-x", bad); err != nil {
			t.Fatalf("malformed event must be a silent drop, got %v", err)
		}
		none(t, hostOut)
		none(t, yOut)
	})

	t.Run("unknown session", func(t *testing.T) {
		if err := h.Publish("ZZZZ", "peer-x", models.NewPlayEvent("peer-x")); err != ErrSessionNotFound {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("sender not in the session", func(t *testing.T) {
		if err := h.Publish(code, "stranger", models.NewPlayEvent("stranger")); err != ErrNotInSession {
			t.Fatalf("expected ErrNotInSession, got %v", err)
		}
		none(t, hostOut)
		none(t, yOut)
	})
}

func TestSlowConsumerIsKicked(t *testing.T) {
	h := New(4, 4)
	code, hostOut := mustCreate(t, h, "host-1", "Host")

	slow := NewOutbox(1)
	if _, err := h.Join(code, "peer-1", "Peer", slow); err != nil {
		t.Fatalf("Join: %v", err)
	}
	drain(slow) // consume the joined reply
	drain(hostOut)

	// First event fills the one-slot buffer; the second finds it full and
	// must kick the connection instead of blocking the relay.
	h.Publish(code, "host-1", models.NewPlayEvent("host-1"))
	h.Publish(code, "host-1", models.NewPauseEvent("host-1"))

	if !kicked(slow) {
		t.Fatal("slow consumer was not kicked")
	}
	if msg := next(t, slow); msg.Event == nil || msg.Event.Type != models.EventPlay {
		t.Fatalf("first event lost: %+v", msg)
	}
	none(t, slow)
}
