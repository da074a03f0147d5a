package models

// Message kinds sent by clients.
const (
	TypeCreate        = "create"
	TypeJoin          = "join"
	TypeLeave         = "leave"
	TypeSetReady      = "setReady"
	TypeStartPlayback = "startPlayback"
	TypeEvent         = "event"
)

// Message kinds sent by the server.
const (
	TypeJoined             = "joined"
	TypeRejected           = "rejected"
	TypeParticipantJoined  = "participantJoined"
	TypeParticipantLeft    = "participantLeft"
	TypeParticipantUpdated = "participantUpdated"
	TypeHostChanged        = "hostChanged"
	TypePlaybackStarted    = "playbackStarted"
	TypeSessionEnded       = "sessionEnded"
	TypeError              = "error"
)

// Reason codes carried on rejected / error / sessionEnded messages.
const (
	ReasonSessionNotFound            = "SessionNotFound"
	ReasonSessionFull                = "SessionFull"
	ReasonCapacityExceeded           = "CapacityExceeded"
	ReasonAlreadyJoined              = "AlreadyJoined"
	ReasonNotHost                    = "NotHost"
	ReasonNotAllReady                = "NotAllReady"
	ReasonProtocolVersionUnsupported = "ProtocolVersionUnsupported"
	ReasonTransportDisconnected      = "TransportDisconnected"
	ReasonBadHandshake               = "BadHandshake"
	ReasonEndedByHost                = "EndedByHost"
)

type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

// SessionSnapshot is the session state sent to clients. Participants are
// ordered by join time; the first entry after a host departure is the
// successor.
type SessionSnapshot struct {
	Code            string        `json:"code"`
	HostID          string        `json:"hostId"`
	Participants    []Participant `json:"participants"`
	ProtocolVersion int           `json:"protocolVersion"`
	CreatedAtMs     int64         `json:"createdAtMs"`
}

// Message is the wire envelope for both directions. Type selects the kind;
// the other fields are populated per kind and omitted otherwise.
type Message struct {
	Type            string           `json:"type"`
	Code            string           `json:"code,omitempty"`
	ParticipantID   string           `json:"participantId,omitempty"`
	DisplayName     string           `json:"displayName,omitempty"`
	ProtocolVersion int              `json:"protocolVersion,omitempty"`
	EndForAll       bool             `json:"endForAll,omitempty"`
	Ready           bool             `json:"ready,omitempty"`
	Event           *Event           `json:"event,omitempty"`
	Session         *SessionSnapshot `json:"session,omitempty"`
	Participant     *Participant     `json:"participant,omitempty"`
	HostID          string           `json:"hostId,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Detail          string           `json:"message,omitempty"`
	Sender          string           `json:"sender,omitempty"`
}
