package core

import (
	"sort"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	p   domain.Participant
	seq uint64
}

// MembershipTable maps room ids to the connections currently in them.
// A connection is in at most one room, and a room with no members has no
// entry. It is not safe for concurrent use: the relay loop owns it.
type MembershipTable struct {
	rooms  map[domain.RoomID]map[domain.ConnID]member
	byConn map[domain.ConnID]domain.RoomID
	seq    uint64
}

func NewMembershipTable() *MembershipTable {
	return &MembershipTable{
		rooms:  make(map[domain.RoomID]map[domain.ConnID]member),
		byConn: make(map[domain.ConnID]domain.RoomID),
	}
}

// Add puts p into room. A connection already in the same room is updated
// in place. A connection in a different room is moved, and the departure
// from the old room is returned with ok set.
func (t *MembershipTable) Add(room domain.RoomID, p domain.Participant) (moved Departure, ok bool) {
	p.RoomID = room
	if prev, in := t.byConn[p.ConnID]; in && prev != room {
		moved, ok = t.Remove(p.ConnID)
	}

	members, exists := t.rooms[room]
	if !exists {
		members = make(map[domain.ConnID]member)
		t.rooms[room] = members
		log.Debug().Str("module", "core.membership").Str("room", string(room)).Msg("room created")
	}
	if cur, dup := members[p.ConnID]; dup {
		cur.p = p
		members[p.ConnID] = cur
		return moved, ok
	}
	t.seq++
	members[p.ConnID] = member{p: p, seq: t.seq}
	t.byConn[p.ConnID] = room
	return moved, ok
}

// Remove takes conn out of whichever room it is in.
func (t *MembershipTable) Remove(conn domain.ConnID) (Departure, bool) {
	room, ok := t.byConn[conn]
	if !ok {
		return Departure{}, false
	}
	delete(t.byConn, conn)

	members := t.rooms[room]
	m := members[conn]
	delete(members, conn)

	d := Departure{Participant: m.p}
	if len(members) == 0 {
		delete(t.rooms, room)
		d.RoomDeleted = true
		log.Debug().Str("module", "core.membership").Str("room", string(room)).Msg("room deleted")
		return d, true
	}
	d.Remaining = sorted(members)
	return d, true
}

// ListOthers returns the members of room except the given connection, in
// join order.
func (t *MembershipTable) ListOthers(room domain.RoomID, except domain.ConnID) []domain.Participant {
	members := t.rooms[room]
	out := make([]domain.Participant, 0, len(members))
	for _, p := range sorted(members) {
		if p.ConnID != except {
			out = append(out, p)
		}
	}
	return out
}

func (t *MembershipTable) Members(room domain.RoomID) []domain.Participant {
	return sorted(t.rooms[room])
}

func (t *MembershipTable) RoomOf(conn domain.ConnID) (domain.RoomID, bool) {
	room, ok := t.byConn[conn]
	return room, ok
}

func (t *MembershipTable) Participant(conn domain.ConnID) (domain.Participant, bool) {
	room, ok := t.byConn[conn]
	if !ok {
		return domain.Participant{}, false
	}
	return t.rooms[room][conn].p, true
}

func (t *MembershipTable) Len(room domain.RoomID) int {
	return len(t.rooms[room])
}

func (t *MembershipTable) HasRoom(room domain.RoomID) bool {
	_, ok := t.rooms[room]
	return ok
}

// Rooms scans the whole table. Diagnostics only.
func (t *MembershipTable) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(t.rooms))
	for id, members := range t.rooms {
		out = append(out, RoomInfo{ID: id, ParticipantCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sorted(members map[domain.ConnID]member) []domain.Participant {
	ms := make([]member, 0, len(members))
	for _, m := range members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	out := make([]domain.Participant, len(ms))
	for i, m := range ms {
		out[i] = m.p
	}
	return out
}
