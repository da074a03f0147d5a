package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"watchparty/models"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	outboundBuffer   = 64
)

// Options configures one session connection.
type Options struct {
	// URL of the server's websocket endpoint, e.g. ws://host:8080/ws.
	URL string

	// Code of the session to join. Empty means create a new session and
	// become its host.
	Code string

	ParticipantID   string
	DisplayName     string
	ProtocolVersion int
}

// Callbacks surface session-level changes to the embedding UI. Any field may
// be nil.
type Callbacks struct {
	OnSessionUpdate   func(models.SessionSnapshot)
	OnPlaybackStarted func()
	OnSessionEnded    func(reason string)
	OnError           func(reason, detail string)
}

// RejectedError is returned by Dial when the server refuses the handshake.
type RejectedError struct {
	Reason string
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server rejected handshake: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("server rejected handshake: %s", e.Reason)
}

// Conn is one participant's live connection to a session. It feeds relayed
// events into the engine and carries the engine's outbound events to the
// server. Dropped outbound events are tolerated, not retried; correctness
// comes from idempotent application on the receiving side.
type Conn struct {
	ws       *websocket.Conn
	engine   *Engine
	cb       Callbacks
	outbound chan models.Message

	mu      sync.Mutex
	session models.SessionSnapshot

	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects, performs the handshake, and wires the engine to the
// session. The engine is enabled on success and disabled again when the
// session ends.
func Dial(opts Options, engine *Engine, cb Callbacks) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	hello := models.Message{
		Type:            models.TypeJoin,
		Code:            opts.Code,
		ParticipantID:   opts.ParticipantID,
		DisplayName:     opts.DisplayName,
		ProtocolVersion: opts.ProtocolVersion,
	}
	if opts.Code == "" {
		hello.Type = models.TypeCreate
	}

	ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := ws.WriteJSON(hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var reply models.Message
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read handshake reply: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	switch reply.Type {
	case models.TypeJoined:
		if reply.Session == nil {
			ws.Close()
			return nil, errors.New("joined reply carried no session")
		}
	case models.TypeRejected:
		ws.Close()
		return nil, &RejectedError{Reason: reply.Reason, Detail: reply.Detail}
	default:
		ws.Close()
		return nil, fmt.Errorf("unexpected handshake reply %q", reply.Type)
	}

	c := &Conn{
		ws:       ws,
		engine:   engine,
		cb:       cb,
		outbound: make(chan models.Message, outboundBuffer),
		session:  *reply.Session,
		done:     make(chan struct{}),
	}

	engine.SetSender(c.queueEvent)
	engine.SetEnabled(true)

	go c.readLoop()
	go c.writeLoop()

	log.Infof("joined session %s as %s", c.session.Code, opts.ParticipantID)
	return c, nil
}

// Session returns the latest session snapshot received from the server.
func (c *Conn) Session() models.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// queueEvent is the engine's send path. Full buffer means the connection is
// stalled; the event is dropped rather than blocking the caller.
func (c *Conn) queueEvent(ev models.Event) {
	select {
	case c.outbound <- models.Message{Type: models.TypeEvent, Event: &ev}:
	default:
		log.Debugf("outbound buffer full, dropping %s event %s", ev.Type, ev.EventID)
	}
}

// SetReady reports this participant's readiness toward a synchronized start.
func (c *Conn) SetReady(ready bool) error {
	return c.enqueue(models.Message{Type: models.TypeSetReady, Ready: ready})
}

// StartPlayback asks the server to begin shared playback. Host only; a
// refusal arrives on the error callback.
func (c *Conn) StartPlayback() error {
	return c.enqueue(models.Message{Type: models.TypeStartPlayback})
}

// Leave departs the session. endForAll dissolves it for everyone when this
// participant is the host.
func (c *Conn) Leave(endForAll bool) error {
	err := c.enqueue(models.Message{Type: models.TypeLeave, EndForAll: endForAll})
	c.shutdown()
	return err
}

func (c *Conn) enqueue(msg models.Message) error {
	select {
	case c.outbound <- msg:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

// Close tears the connection down without a leave message; the server treats
// the disconnect as one.
func (c *Conn) Close() {
	c.shutdown()
	c.ws.Close()
}

func (c *Conn) shutdown() {
	c.doneOnce.Do(func() {
		c.engine.SetEnabled(false)
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	defer func() {
		c.shutdown()
		c.ws.Close()
	}()

	for {
		var msg models.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				log.Warnf("connection lost: %v", err)
				if c.cb.OnError != nil {
					c.cb.OnError(models.ReasonTransportDisconnected, err.Error())
				}
			}
			return
		}

		switch msg.Type {
		case models.TypeEvent:
			if msg.Event != nil {
				c.engine.HandleRemoteEvent(*msg.Event, msg.Sender)
			}
		case models.TypeParticipantJoined, models.TypeParticipantLeft, models.TypeHostChanged:
			if msg.Session != nil {
				c.updateSession(*msg.Session)
			}
		case models.TypeParticipantUpdated:
			if msg.Participant != nil {
				c.updateParticipant(*msg.Participant)
			}
		case models.TypePlaybackStarted:
			if c.cb.OnPlaybackStarted != nil {
				c.cb.OnPlaybackStarted()
			}
		case models.TypeSessionEnded:
			if c.cb.OnSessionEnded != nil {
				c.cb.OnSessionEnded(msg.Reason)
			}
			return
		case models.TypeError:
			if c.cb.OnError != nil {
				c.cb.OnError(msg.Reason, msg.Detail)
			}
		default:
			log.Debugf("ignoring server message type %q", msg.Type)
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.outbound:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			// Flush anything still queued (the leave message, typically)
			// before the close frame.
			for {
				select {
				case msg := <-c.outbound:
					c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					if c.ws.WriteJSON(msg) != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
					c.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Conn) updateSession(snap models.SessionSnapshot) {
	c.mu.Lock()
	c.session = snap
	c.mu.Unlock()
	if c.cb.OnSessionUpdate != nil {
		c.cb.OnSessionUpdate(snap)
	}
}

func (c *Conn) updateParticipant(p models.Participant) {
	c.mu.Lock()
	for i := range c.session.Participants {
		if c.session.Participants[i].ID == p.ID {
			c.session.Participants[i] = p
		}
	}
	snap := c.session
	c.mu.Unlock()
	if c.cb.OnSessionUpdate != nil {
		c.cb.OnSessionUpdate(snap)
	}
}
