package hub

import (
	"sync"

	"watchparty/models"
)

// Outbox is the hub's only handle on a connection: a bounded send queue plus
// a kick signal. The websocket itself stays owned by the transport layer, so
// tearing a connection down can never leave a session holding a dead socket.
type Outbox struct {
	ch   chan models.Message
	kick chan struct{}
	once sync.Once
}

func NewOutbox(buffer int) *Outbox {
	return &Outbox{
		ch:   make(chan models.Message, buffer),
		kick: make(chan struct{}),
	}
}

// Send queues msg without ever blocking the caller. A full buffer means the
// reader is too slow or gone; the connection is kicked so it cannot stall
// delivery to anyone else.
func (o *Outbox) Send(msg models.Message) bool {
	select {
	case o.ch <- msg:
		return true
	default:
		o.Kick()
		return false
	}
}

// Kick tells the owning connection to shut down. Safe to call repeatedly.
func (o *Outbox) Kick() {
	o.once.Do(func() { close(o.kick) })
}

func (o *Outbox) Messages() <-chan models.Message { return o.ch }
func (o *Outbox) Kicked() <-chan struct{}         { return o.kick }
