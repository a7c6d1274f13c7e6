package echo

import (
	"context"
	"fmt"

	"github.com/marmos91/packetnet/internal/logger"
	"github.com/marmos91/packetnet/pkg/network"
	"github.com/marmos91/packetnet/pkg/packet"
)

// Broadcaster fans a packet out to every connection. *network.Server
// satisfies it.
type Broadcaster interface {
	Broadcast(p packet.Writable) int
}

// Handler serves the echo protocol.
type Handler struct {
	relay Broadcaster
}

// NewHandler returns a server handler. relay may be nil, in which case chat
// lines are only logged.
func NewHandler(relay Broadcaster) *Handler {
	return &Handler{relay: relay}
}

// SetRelay sets the chat relay. It must be called before the server starts.
func (h *Handler) SetRelay(relay Broadcaster) { h.relay = relay }

// HandlePacket answers pings and relays chat lines. Pongs are queued without
// waiting, so a client that stops reading loses pongs instead of stalling the
// handler.
func (h *Handler) HandlePacket(_ context.Context, c *network.Connection, p packet.Readable) error {
	switch pkt := p.(type) {
	case *Ping:
		return c.TrySend(&Pong{Seq: pkt.Seq, SentAt: pkt.SentAt})
	case *Chat:
		if pkt.From == "" {
			pkt.From = c.RemoteAddr().String()
		}
		logger.Info("chat from %s: %s", pkt.From, pkt.Text)
		if h.relay != nil {
			h.relay.Broadcast(pkt)
		}
		return nil
	case *Pong:
		return fmt.Errorf("unexpected pong %d from client", pkt.Seq)
	default:
		return fmt.Errorf("unexpected packet %T", p)
	}
}
