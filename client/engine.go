package client

import (
	"fmt"
	"sync"

	"watchparty/models"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("client")

// Player is the local playback capability the engine drives. Anything that
// can resume, pause, seek, and change speed can sit behind a session.
type Player interface {
	Resume()
	Pause()
	SeekTo(seconds float64)
	SetRate(rate float64)
}

// Engine bridges the local player and the wire without feedback loops: it
// deduplicates inbound events, drops its own echoes, and keeps the player's
// reaction to a remote event from being re-emitted as a new local action.
//
// Callers are expected to serialize emit and handle calls; the mutex is a
// backstop, not a concurrency contract. Player mutations run outside the
// lock so a player whose state-change callback fires synchronously re-enters
// the engine without deadlocking, and hits the suppression flag instead.
type Engine struct {
	mu       sync.Mutex
	enabled  bool
	suppress bool
	seen     map[string]struct{}
	player   Player

	identity func() string      // current participant id, "" when signed out
	notify   func(string)       // user-facing toast sink, may be nil
	send     func(models.Event) // outbound submission, may be nil until connected
}

// NewEngine builds a disabled engine. identity supplies the local
// participant id; notify receives human-readable remote-action messages.
func NewEngine(identity func() string, notify func(string)) *Engine {
	return &Engine{
		identity: identity,
		notify:   notify,
		seen:     make(map[string]struct{}),
	}
}

// SetSender installs the outbound submission path.
func (e *Engine) SetSender(send func(models.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = send
}

// AttachPlayer hands the engine a player to drive. Remote events arriving
// with no player attached are ignored entirely.
func (e *Engine) AttachPlayer(p Player) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.player = p
}

// DetachPlayer stops all further remote-event application immediately.
func (e *Engine) DetachPlayer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.player = nil
}

// SetEnabled turns the engine on or off. Disabling clears the
// deduplication set: ids seen in a previous session must never suppress
// future events that happen to reuse them.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	if !enabled {
		e.seen = make(map[string]struct{})
	}
}

// begin gates an outbound emission: nil when emission is allowed, in which
// case the local participant id is returned.
func (e *Engine) begin() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enabled || e.suppress {
		return "", false
	}
	id := e.identity()
	if id == "" {
		return "", false
	}
	return id, true
}

func (e *Engine) submit(ev models.Event) {
	e.mu.Lock()
	send := e.send
	e.mu.Unlock()
	if send != nil {
		send(ev)
	}
}

// EmitPlayPause reports a local play/pause action. isCurrentlyPaused is the
// player's state after the action: paused means a pause event goes out.
func (e *Engine) EmitPlayPause(isCurrentlyPaused bool) {
	id, ok := e.begin()
	if !ok {
		return
	}
	if isCurrentlyPaused {
		e.submit(models.NewPauseEvent(id))
	} else {
		e.submit(models.NewPlayEvent(id))
	}
}

// EmitSeek reports a local seek to positionSeconds.
func (e *Engine) EmitSeek(positionSeconds float64) {
	id, ok := e.begin()
	if !ok {
		return
	}
	ev, err := models.NewSeekEvent(id, positionSeconds)
	if err != nil {
		log.Debugf("not emitting seek: %v", err)
		return
	}
	e.submit(ev)
}

// EmitSetRate reports a local playback-rate change.
func (e *Engine) EmitSetRate(rate float64) {
	id, ok := e.begin()
	if !ok {
		return
	}
	ev, err := models.NewSetRateEvent(id, rate)
	if err != nil {
		log.Debugf("not emitting rate change: %v", err)
		return
	}
	e.submit(ev)
}

// HandleRemoteEvent applies one relayed event to the local player. Applying
// the same event twice is a no-op, as is an echo of our own event should the
// relay ever misbehave. Events whose type needs a field the event lacks are
// dropped silently.
func (e *Engine) HandleRemoteEvent(ev models.Event, senderDisplayName string) {
	e.mu.Lock()
	if !e.enabled || e.player == nil {
		e.mu.Unlock()
		return
	}
	if ev.SenderID == e.identity() {
		// The relay never echoes to the sender; tolerate it anyway.
		e.mu.Unlock()
		return
	}
	if _, dup := e.seen[ev.EventID]; dup {
		e.mu.Unlock()
		return
	}
	e.seen[ev.EventID] = struct{}{}
	player := e.player
	e.suppress = true
	e.mu.Unlock()

	// Outbound emission stays suppressed for the whole player mutation, so
	// the resulting state-change callback cannot bounce the action back
	// onto the wire.
	applied := e.dispatch(player, ev, senderDisplayName)

	e.mu.Lock()
	e.suppress = false
	notify := e.notify
	e.mu.Unlock()

	if applied != "" && notify != nil {
		notify(applied)
	}
}

// dispatch mutates the player per event type and returns the notification
// text, or "" when nothing was applied.
func (e *Engine) dispatch(player Player, ev models.Event, sender string) string {
	switch ev.Type {
	case models.EventPlay:
		player.Resume()
		return fmt.Sprintf("%s resumed playback", sender)
	case models.EventPause:
		player.Pause()
		return fmt.Sprintf("%s paused playback", sender)
	case models.EventSeek:
		if ev.PositionSeconds == nil {
			return ""
		}
		player.SeekTo(*ev.PositionSeconds)
		return fmt.Sprintf("%s jumped to %.1fs", sender, *ev.PositionSeconds)
	case models.EventSetRate:
		if ev.Rate == nil {
			return ""
		}
		player.SetRate(*ev.Rate)
		return fmt.Sprintf("%s set speed to %.2fx", sender, *ev.Rate)
	default:
		log.Debugf("ignoring event %s with unknown type %q", ev.EventID, ev.Type)
		return ""
	}
}
