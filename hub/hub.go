package hub

import (
	"strings"
	"sync"
	"time"

	"watchparty/models"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("hub")

// Hub is the session registry and relay. It owns every live session; all
// join/leave/ready/publish traffic for a session is serialized through the
// hub mutex, so there are never two hosts and never a lost roster update.
type Hub struct {
	maxSessions     int
	maxParticipants int

	mu       sync.RWMutex
	sessions map[string]*session
}

func New(maxSessions, maxParticipants int) *Hub {
	return &Hub{
		maxSessions:     maxSessions,
		maxParticipants: maxParticipants,
		sessions:        make(map[string]*session),
	}
}

// normalizeCode folds a user-entered join code to the canonical upper-case
// form codes are generated and stored in.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Create registers a new session with hostID as its sole participant and
// host. The joined reply is queued on out before anything else can be, so
// the client always sees it first.
func (h *Hub) Create(hostID, displayName string, protocolVersion int, out *Outbox) (*models.SessionSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.sessions) >= h.maxSessions {
		return nil, ErrCapacityExceeded
	}

	var code string
	for attempt := 0; ; attempt++ {
		c, err := newCode()
		if err != nil {
			return nil, err
		}
		if _, taken := h.sessions[c]; !taken {
			code = c
			break
		}
		if attempt >= 100 {
			return nil, ErrCapacityExceeded
		}
	}

	s := &session{
		code:            code,
		hostID:          hostID,
		protocolVersion: protocolVersion,
		createdAt:       time.Now(),
		participants:    make(map[string]*participant),
	}
	s.addParticipant(hostID, displayName, out)
	h.sessions[code] = s

	log.Infof("✅ %s (%s) created session %s", hostID, displayName, code)
	snap := s.snapshot()
	out.Send(models.Message{Type: models.TypeJoined, Session: snap})
	return snap, nil
}

// Join adds a participant to an existing session. Rejoining with an id that
// is already a member succeeds idempotently: the stale connection is kicked
// and the membership is handed to the new one, which tolerates reconnect
// races without an AlreadyJoined error.
func (h *Hub) Join(code, participantID, displayName string, out *Outbox) (*models.SessionSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[normalizeCode(code)]
	if !ok || s.closed {
		return nil, ErrSessionNotFound
	}

	if existing, rejoined := s.participants[participantID]; rejoined {
		if existing.outbox != out {
			existing.outbox.Kick()
			existing.outbox = out
		}
		log.Infof("🔁 %s rejoined session %s", participantID, s.code)
		snap := s.snapshot()
		out.Send(models.Message{Type: models.TypeJoined, Session: snap})
		return snap, nil
	}

	if len(s.participants) >= h.maxParticipants {
		return nil, ErrSessionFull
	}

	p := s.addParticipant(participantID, displayName, out)
	log.Infof("✅ %s (%s) joined session %s, %d members", participantID, displayName, s.code, len(s.participants))

	snap := s.snapshot()
	out.Send(models.Message{Type: models.TypeJoined, Session: snap})
	s.broadcast(models.Message{
		Type:        models.TypeParticipantJoined,
		Session:     snap,
		Participant: &models.Participant{ID: p.id, DisplayName: p.displayName, IsReady: p.ready},
	}, participantID)
	return snap, nil
}

// Leave removes a participant. The host leaving with endForAll dissolves the
// session for everyone; the host leaving without it hands the host role to
// the earliest-joined remaining participant. Unknown codes and ids are
// no-ops so the disconnect path can call this unconditionally.
//
// out identifies the departing connection. When the membership has already
// been handed to a newer connection by an idempotent rejoin, the stale
// connection's teardown must not evict it, so a mismatched out is a no-op.
// nil means unconditional removal (an explicit leave message).
func (h *Hub) Leave(code, participantID string, endForAll bool, out *Outbox) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[normalizeCode(code)]
	if !ok {
		return
	}
	p, ok := s.participants[participantID]
	if !ok {
		return
	}
	if out != nil && p.outbox != out {
		return
	}

	delete(s.participants, participantID)
	p.outbox.Kick()
	log.Infof("❌ %s left session %s, %d members remain", participantID, s.code, len(s.participants))

	wasHost := participantID == s.hostID

	if len(s.participants) == 0 {
		h.dissolve(s, "")
		return
	}
	if wasHost && endForAll {
		h.dissolve(s, models.ReasonEndedByHost)
		return
	}

	s.broadcast(models.Message{
		Type:        models.TypeParticipantLeft,
		Session:     s.snapshot(),
		Participant: &models.Participant{ID: p.id, DisplayName: p.displayName, IsReady: p.ready},
	}, "")

	if wasHost {
		s.hostID = s.nextHost()
		log.Infof("👑 host of session %s is now %s", s.code, s.hostID)
		s.broadcast(models.Message{
			Type:    models.TypeHostChanged,
			HostID:  s.hostID,
			Session: s.snapshot(),
		}, "")
	}
}

// dissolve ends a session: remaining participants are told why, evicted, and
// the code is freed. Callers hold the hub mutex.
func (h *Hub) dissolve(s *session, reason string) {
	s.closed = true
	delete(h.sessions, s.code)
	for _, p := range s.participants {
		p.outbox.Send(models.Message{Type: models.TypeSessionEnded, Reason: reason})
		p.outbox.Kick()
	}
	s.participants = make(map[string]*participant)
	log.Infof("🗑️  session %s dissolved", s.code)
}

// SetReady flips a participant's readiness and tells the whole session.
func (h *Hub) SetReady(code, participantID string, ready bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[normalizeCode(code)]
	if !ok {
		return ErrSessionNotFound
	}
	p, ok := s.participants[participantID]
	if !ok {
		return ErrNotInSession
	}
	p.ready = ready

	s.broadcast(models.Message{
		Type:        models.TypeParticipantUpdated,
		Participant: &models.Participant{ID: p.id, DisplayName: p.displayName, IsReady: p.ready},
	}, "")
	return nil
}

// StartPlayback begins shared playback. Only the host may call it, and only
// once every participant has flagged ready; failures go to the requester
// alone and nothing is broadcast.
func (h *Hub) StartPlayback(code, requesterID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[normalizeCode(code)]
	if !ok {
		return ErrSessionNotFound
	}
	if requesterID != s.hostID {
		return ErrNotHost
	}
	if !s.allReady() {
		return ErrNotAllReady
	}

	log.Infof("▶️  session %s playback started by host %s", s.code, requesterID)
	s.broadcast(models.Message{Type: models.TypePlaybackStarted}, "")
	return nil
}

// Publish relays a playback event to every session member except its sender.
// The relayed copy carries a server receive timestamp if the sender did not
// already stamp one; the sender's original is never mutated. Malformed
// events are dropped here so one bad client cannot feed garbage to the room.
func (h *Hub) Publish(code, senderID string, ev models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[normalizeCode(code)]
	if !ok {
		return ErrSessionNotFound
	}
	sender, ok := s.participants[senderID]
	if !ok {
		return ErrNotInSession
	}
	if err := ev.Validate(); err != nil {
		log.Debugf("dropping bad event from %s in %s: %v", senderID, s.code, err)
		return nil
	}

	stamped := ev.WithServerStamp(models.NowMillis())
	log.Debugf("relay %s %s in %s", stamped.Type, stamped.EventID, s.code)
	s.broadcast(models.Message{
		Type:   models.TypeEvent,
		Event:  &stamped,
		Sender: sender.displayName,
	}, senderID)
	return nil
}

// Count reports the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Snapshot returns the current state of a session, if it exists.
func (h *Hub) Snapshot(code string) (*models.SessionSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[normalizeCode(code)]
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}
