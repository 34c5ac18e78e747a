package core

// Message types carried in the "type" field of every signaling frame.
const (
	TypeJoinRoom           = "join-room"
	TypeLeaveRoom          = "leave-room"
	TypePing               = "ping"
	TypeWhoAmI             = "whoami"
	TypeScreenShareStarted = "screen-share-started"
	TypeScreenShareStopped = "screen-share-stopped"

	TypeWelcome          = "welcome"
	TypeAllUsers         = "all-users"
	TypeUserJoined       = "user-joined"
	TypeUserDisconnected = "user-disconnected"
	TypePong             = "pong"
)

// SignalKind is one of the handshake payload kinds the relay forwards
// without looking inside.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}
