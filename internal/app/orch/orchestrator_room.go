package orch

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connect registers a new connection and greets it with its id.
func (o *Orchestrator) Connect(id domain.ConnID, conn core.SignalConnection, user *domain.User) error {
	return o.submit(func() {
		o.Registry.Bind(id, conn, user)
		o.deliver(id, encode(welcomeMsg{Type: core.TypeWelcome, ConnID: id}))
	})
}

// Join puts the connection into room, leaving any room it was in before.
// A nil user keeps the identity the connection already has.
func (o *Orchestrator) Join(id domain.ConnID, room domain.RoomID, user *domain.User) error {
	return o.submit(func() { o.join(id, room, user) })
}

// Leave takes the connection out of its room without closing it.
func (o *Orchestrator) Leave(id domain.ConnID) error {
	return o.submit(func() {
		if d, ok := o.Rooms.Remove(id); ok {
			log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(d.Room())).Msg("left room")
			o.announceDeparture(d)
		}
	})
}

// Disconnect runs membership cleanup for a closed connection. Repeated
// calls for the same connection do nothing.
func (o *Orchestrator) Disconnect(id domain.ConnID) error {
	return o.submit(func() { o.disconnect(id) })
}

func (o *Orchestrator) WhoAmI(id domain.ConnID) error {
	return o.submit(func() {
		sess, ok := o.Registry.Get(id)
		if !ok {
			return
		}
		resp := whoamiMsg{
			Type:        core.TypeWhoAmI,
			ConnID:      id,
			UserID:      sess.User.ID,
			DisplayName: sess.User.DisplayName,
		}
		if room, ok := o.Rooms.RoomOf(id); ok {
			resp.RoomID = room
		}
		o.deliver(id, encode(resp))
	})
}

func (o *Orchestrator) Ping(id domain.ConnID) error {
	return o.submit(func() {
		o.deliver(id, encode(struct {
			Type string `json:"type"`
		}{Type: core.TypePong}))
	})
}

func (o *Orchestrator) join(id domain.ConnID, room domain.RoomID, user *domain.User) {
	sess, ok := o.Registry.Get(id)
	if !ok {
		log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("join from unknown connection")
		return
	}
	if user != nil {
		o.Registry.UpdateUser(id, user)
	}

	prev, wasMember := o.Rooms.RoomOf(id)
	p := domain.NewParticipant(id, room, sess.User)
	if moved, ok := o.Rooms.Add(room, p); ok {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("from_room", string(moved.Room())).Msg("moved out of room")
		o.announceDeparture(moved)
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(room)).Str("user", string(p.UserID)).Msg("joined room")

	o.deliver(id, encode(allUsersMsg{
		Type:   core.TypeAllUsers,
		RoomID: room,
		Users:  peers(o.Rooms.ListOthers(room, id)),
	}))

	// A repeated join to the same room only refreshes the joiner's view.
	if wasMember && prev == room {
		return
	}
	o.broadcast(room, id, encode(userJoinedMsg{
		Type:        core.TypeUserJoined,
		RoomID:      room,
		ConnID:      id,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
	}))
}

func (o *Orchestrator) disconnect(id domain.ConnID) {
	if _, ok := o.Registry.Unbind(id); !ok {
		return
	}
	if d, ok := o.Rooms.Remove(id); ok {
		log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(d.Room())).Bool("room_deleted", d.RoomDeleted).Msg("disconnected from room")
		o.announceDeparture(d)
	}
}

func (o *Orchestrator) announceDeparture(d core.Departure) {
	f := encode(userDisconnectedMsg{
		Type:   core.TypeUserDisconnected,
		RoomID: d.Room(),
		ConnID: d.Participant.ConnID,
	})
	for _, p := range d.Remaining {
		o.deliver(p.ConnID, f)
	}
}
