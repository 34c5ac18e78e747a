package orch

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type welcomeMsg struct {
	Type   string        `json:"type"`
	ConnID domain.ConnID `json:"connectionId"`
}

type peerDTO struct {
	ConnID      domain.ConnID `json:"connectionId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

type allUsersMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Users  []peerDTO     `json:"users"`
}

type userJoinedMsg struct {
	Type        string        `json:"type"`
	RoomID      domain.RoomID `json:"roomId"`
	ConnID      domain.ConnID `json:"connectionId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
}

type userDisconnectedMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	ConnID domain.ConnID `json:"connectionId"`
}

type noticeMsg struct {
	Type   string        `json:"type"`
	From   domain.ConnID `json:"from"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
}

type whoamiMsg struct {
	Type        string        `json:"type"`
	ConnID      domain.ConnID `json:"connectionId"`
	UserID      domain.UserID `json:"userId"`
	DisplayName string        `json:"displayName"`
	RoomID      domain.RoomID `json:"roomId,omitempty"`
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode marshal")
		return nil
	}
	return b
}

func peers(ps []domain.Participant) []peerDTO {
	out := make([]peerDTO, len(ps))
	for i, p := range ps {
		out[i] = peerDTO{ConnID: p.ConnID, UserID: p.UserID, DisplayName: p.DisplayName}
	}
	return out
}

// encodeRelayed builds {"type":kind,"from":...,"roomId":...,"payload":<payload>}
// splicing the payload bytes in unchanged. Marshalling a json.RawMessage
// would compact it.
func encodeRelayed(typ string, from domain.ConnID, room domain.RoomID, payload json.RawMessage) core.Frame {
	head := encode(noticeMsg{Type: typ, From: from, RoomID: room})
	if head == nil {
		return nil
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	f := make(core.Frame, 0, len(head)+len(payload)+len(`,"payload":`))
	f = append(f, head[:len(head)-1]...)
	f = append(f, `,"payload":`...)
	f = append(f, payload...)
	f = append(f, '}')
	return f
}
