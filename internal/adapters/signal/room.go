package signal

import (
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

type joinPayload struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId" validate:"required,max=128"`
	UserID      string `json:"userId" validate:"max=128"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

func (ctl *SignalWSController) handleJoin(c *WsSignalConn, data []byte) {
	var p joinPayload
	if !ctl.decode(c, data, &p) {
		return
	}
	room := domain.RoomID(p.RoomID)
	if err := domain.ValidateRoomID(room); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad room id")
		return
	}

	// The identity is taken at face value; without a userId the client
	// token stands in.
	userID := p.UserID
	if userID == "" {
		userID = c.token
	}
	user, err := domain.NewUser(userID, p.DisplayName)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad identity")
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("room", p.RoomID).Msg("join")
	logSubmit(c, "join", ctl.Orch.Join(c.id, room, user))
}

// handleLeave takes the connection out of its room; the socket stays open.
func (ctl *SignalWSController) handleLeave(c *WsSignalConn) {
	log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("leave")
	logSubmit(c, "leave", ctl.Orch.Leave(c.id))
}
