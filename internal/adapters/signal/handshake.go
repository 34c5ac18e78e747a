package signal

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// handshakePayload carries an offer, answer or ice candidate. When both
// "to" and "roomId" are present the message goes to "to" only.
type handshakePayload struct {
	Type    string          `json:"type"`
	To      string          `json:"to" validate:"max=64"`
	RoomID  string          `json:"roomId" validate:"required_without=To,max=128"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type screenSharePayload struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId" validate:"required,max=128"`
}

func (ctl *SignalWSController) handleHandshake(c *WsSignalConn, kind core.SignalKind, data []byte) {
	var p handshakePayload
	if !ctl.decode(c, data, &p) {
		return
	}
	s := orch.Signal{Kind: kind, Payload: p.Payload}
	if p.To != "" {
		s.To = domain.ConnID(p.To)
	} else {
		s.Room = domain.RoomID(p.RoomID)
	}
	logSubmit(c, string(kind), ctl.Orch.Relay(c.id, s))
}

func (ctl *SignalWSController) handleScreenShare(c *WsSignalConn, data []byte, started bool) {
	var p screenSharePayload
	if !ctl.decode(c, data, &p) {
		return
	}
	logSubmit(c, "screen share", ctl.Orch.ScreenShare(c.id, domain.RoomID(p.RoomID), started))
}
