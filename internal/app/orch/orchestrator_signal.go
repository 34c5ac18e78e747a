package orch

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Signal is a handshake payload to forward. Exactly one of To and Room
// addresses it: To for a single connection, Room for everyone else in the
// sender's room.
type Signal struct {
	Kind    core.SignalKind
	To      domain.ConnID
	Room    domain.RoomID
	Payload json.RawMessage
}

// Relay forwards s on behalf of from. The payload is never parsed.
func (o *Orchestrator) Relay(from domain.ConnID, s Signal) error {
	return o.submit(func() { o.relay(from, s) })
}

// ScreenShare tells the rest of room that from started or stopped
// sharing. Nothing is recorded.
func (o *Orchestrator) ScreenShare(from domain.ConnID, room domain.RoomID, started bool) error {
	typ := core.TypeScreenShareStopped
	if started {
		typ = core.TypeScreenShareStarted
	}
	return o.submit(func() {
		if !o.memberOf(from, room) {
			return
		}
		o.broadcast(room, from, encode(noticeMsg{Type: typ, From: from, RoomID: room}))
	})
}

func (o *Orchestrator) relay(from domain.ConnID, s Signal) {
	room, ok := o.Rooms.RoomOf(from)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(from)).Str("kind", string(s.Kind)).Msg("signal from connection outside any room")
		return
	}

	if s.To != "" {
		if target, ok := o.Rooms.RoomOf(s.To); !ok || target != room {
			log.Debug().Str("module", "orch").Str("conn", string(from)).Str("to", string(s.To)).Msg("signal target not in sender's room")
			return
		}
		o.deliver(s.To, encodeRelayed(string(s.Kind), from, room, s.Payload))
		return
	}

	if s.Room != room {
		log.Warn().Str("module", "orch").Str("conn", string(from)).Str("room", string(s.Room)).Msg("signal for a room the sender is not in")
		return
	}
	o.broadcast(room, from, encodeRelayed(string(s.Kind), from, room, s.Payload))
}

func (o *Orchestrator) memberOf(id domain.ConnID, room domain.RoomID) bool {
	cur, ok := o.Rooms.RoomOf(id)
	if !ok || cur != room {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("room", string(room)).Msg("notice for a room the sender is not in")
		return false
	}
	return true
}
