package handlers

import (
	"net/http"
	"strconv"
	"time"

	"watchparty/config"
	"watchparty/hub"
	"watchparty/models"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("handlers")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// connState tracks one connection through its lifecycle. Transitions only
// ever move forward; a failed handshake jumps straight to stateClosing
// without passing stateJoined.
type connState int

const (
	stateConnecting connState = iota
	stateHandshaking
	stateJoined
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateHandshaking:
		return "handshaking"
	case stateJoined:
		return "joined"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// WSHandler accepts websocket connections and runs one lifecycle per
// connection against the injected hub.
type WSHandler struct {
	cfg *config.Config
	hub *hub.Hub
}

func NewWSHandler(cfg *config.Config, h *hub.Hub) *WSHandler {
	return &WSHandler{cfg: cfg, hub: h}
}

// conn is the per-connection lifecycle state. The read loop is the only
// goroutine that mutates it.
type conn struct {
	ws     *websocket.Conn
	state  connState
	code   string
	selfID string
	outbox *hub.Outbox
}

func (c *conn) transition(to connState) {
	log.Debugf("connection %s: %s -> %s", c.ws.RemoteAddr(), c.state, to)
	c.state = to
}

// ServeWS upgrades the request and drives the connection through
// handshake, session membership, and teardown.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	c := &conn{ws: ws, state: stateConnecting}
	c.transition(stateHandshaking)

	snap, ok := h.handshake(c)
	if !ok {
		c.transition(stateClosing)
		ws.Close()
		c.transition(stateClosed)
		return
	}

	c.transition(stateJoined)
	c.code = snap.Code

	go h.writePump(c)
	h.readPump(c)

	// Read loop exited: explicit leave, transport error, or idle timeout.
	// All three funnel through the same eviction. The outbox scopes it to
	// this connection, so tearing down a connection that was superseded by
	// a rejoin leaves the new membership alone.
	c.transition(stateClosing)
	h.hub.Leave(c.code, c.selfID, false, c.outbox)
	c.outbox.Kick()
	ws.Close()
	c.transition(stateClosed)
}

// handshake reads the mandatory first message. Only create and join are
// accepted; anything else, an out-of-range protocol version, or a registry
// refusal gets a rejected reply and no session membership.
func (h *WSHandler) handshake(c *conn) (*models.SessionSnapshot, bool) {
	c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

	var msg models.Message
	if err := c.ws.ReadJSON(&msg); err != nil {
		log.Debugf("handshake read from %s failed: %v", c.ws.RemoteAddr(), err)
		return nil, false
	}

	reject := func(reason, detail string) {
		c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		c.ws.WriteJSON(models.Message{Type: models.TypeRejected, Reason: reason, Detail: detail})
		log.Infof("rejected %s: %s", c.ws.RemoteAddr(), reason)
	}

	if msg.Type != models.TypeCreate && msg.Type != models.TypeJoin {
		reject(models.ReasonBadHandshake, "first message must be create or join")
		return nil, false
	}
	if msg.ParticipantID == "" || msg.DisplayName == "" {
		reject(models.ReasonBadHandshake, "participantId and displayName are required")
		return nil, false
	}
	if !h.cfg.SupportsVersion(msg.ProtocolVersion) {
		reject(models.ReasonProtocolVersionUnsupported, "server accepts protocol versions "+
			versionRange(h.cfg))
		return nil, false
	}

	c.selfID = msg.ParticipantID
	c.outbox = hub.NewOutbox(h.cfg.ClientSendBuffer)

	var (
		snap *models.SessionSnapshot
		err  error
	)
	if msg.Type == models.TypeCreate {
		snap, err = h.hub.Create(msg.ParticipantID, msg.DisplayName, msg.ProtocolVersion, c.outbox)
	} else {
		snap, err = h.hub.Join(msg.Code, msg.ParticipantID, msg.DisplayName, c.outbox)
	}
	if err != nil {
		reject(hub.ReasonFor(err), err.Error())
		return nil, false
	}
	return snap, true
}

// readPump consumes client messages until the connection dies or the client
// leaves. Any inbound traffic, pongs included, pushes the idle deadline out.
func (h *WSHandler) readPump(c *conn) {
	c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		var msg models.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warnf("connection %s read error: %v", c.ws.RemoteAddr(), err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		switch msg.Type {
		case models.TypeLeave:
			h.hub.Leave(c.code, c.selfID, msg.EndForAll, nil)
			return
		case models.TypeSetReady:
			if err := h.hub.SetReady(c.code, c.selfID, msg.Ready); err != nil {
				c.outbox.Send(models.Message{Type: models.TypeError, Reason: hub.ReasonFor(err), Detail: err.Error()})
			}
		case models.TypeStartPlayback:
			// Refusals go to the requester only; the rest of the session
			// never hears about them.
			if err := h.hub.StartPlayback(c.code, c.selfID); err != nil {
				c.outbox.Send(models.Message{Type: models.TypeError, Reason: hub.ReasonFor(err), Detail: err.Error()})
			}
		case models.TypeEvent:
			if msg.Event == nil {
				continue
			}
			ev := *msg.Event
			// Never trust the wire for identity.
			ev.SenderID = c.selfID
			h.hub.Publish(c.code, c.selfID, ev)
		default:
			log.Debugf("connection %s sent unknown message type %q", c.ws.RemoteAddr(), msg.Type)
		}
	}
}

// writePump owns all writes after the handshake: queued hub messages plus
// keepalive pings. A kick from the hub (slow consumer, eviction) drains into
// a close frame.
func (h *WSHandler) writePump(c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.outbox.Messages():
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.outbox.Kicked():
			// Flush whatever is already queued (a sessionEnded
			// notification, usually) before closing.
			for {
				select {
				case msg := <-c.outbox.Messages():
					c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
					if c.ws.WriteJSON(msg) != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
					c.ws.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func versionRange(cfg *config.Config) string {
	if cfg.MinProtocolVersion == cfg.MaxProtocolVersion {
		return strconv.Itoa(cfg.MinProtocolVersion)
	}
	return strconv.Itoa(cfg.MinProtocolVersion) + " through " + strconv.Itoa(cfg.MaxProtocolVersion)
}
