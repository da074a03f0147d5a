package hub

import (
	"sort"
	"time"

	"watchparty/models"
)

type participant struct {
	id          string
	displayName string
	ready       bool
	joinSeq     int64 // position in join order, drives host succession
	outbox      *Outbox
}

// session is one live watch party. All fields are guarded by the owning
// Hub's mutex; sessions are never touched outside it.
type session struct {
	code            string
	hostID          string
	protocolVersion int
	createdAt       time.Time
	nextSeq         int64
	closed          bool // set on dissolve so a racing join sees SessionNotFound
	participants    map[string]*participant
}

func (s *session) addParticipant(id, displayName string, out *Outbox) *participant {
	p := &participant{
		id:          id,
		displayName: displayName,
		joinSeq:     s.nextSeq,
		outbox:      out,
	}
	s.nextSeq++
	s.participants[id] = p
	return p
}

// ordered returns participants in join order, oldest first.
func (s *session) ordered() []*participant {
	out := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })
	return out
}

// nextHost picks the earliest-joined remaining participant. Only called when
// at least one participant remains.
func (s *session) nextHost() string {
	return s.ordered()[0].id
}

func (s *session) allReady() bool {
	for _, p := range s.participants {
		if !p.ready {
			return false
		}
	}
	return true
}

func (s *session) snapshot() *models.SessionSnapshot {
	snap := &models.SessionSnapshot{
		Code:            s.code,
		HostID:          s.hostID,
		ProtocolVersion: s.protocolVersion,
		CreatedAtMs:     s.createdAt.UnixMilli(),
		Participants:    make([]models.Participant, 0, len(s.participants)),
	}
	for _, p := range s.ordered() {
		snap.Participants = append(snap.Participants, models.Participant{
			ID:          p.id,
			DisplayName: p.displayName,
			IsReady:     p.ready,
		})
	}
	return snap
}

// broadcast queues msg for every participant, optionally skipping one
// (the sender of a relayed event is never echoed to).
func (s *session) broadcast(msg models.Message, skipID string) {
	for _, p := range s.participants {
		if p.id == skipID {
			continue
		}
		p.outbox.Send(msg)
	}
}
