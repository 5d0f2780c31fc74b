package xiangqidto

import "encoding/json"

const (
	EnvelopeSuccess = "success"
	EnvelopeFail    = "fail"
)

// Envelope is the reply to every inbound request.
type Envelope struct {
	ID      string `json:"id,omitempty"`
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success(data any) *Envelope {
	return &Envelope{Code: EnvelopeSuccess, Data: data}
}

func Fail(reason, message string) *Envelope {
	return &Envelope{Code: EnvelopeFail, Reason: reason, Message: message}
}

// Request is an inbound operation after transport decoding.
type Request struct {
	ID       string          `json:"id,omitempty"`
	Op       string          `json:"op"`
	PlayerID string          `json:"playerId,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	MatchID  string          `json:"matchId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Operation names.
const (
	OpSubmitMove      = "submitMove"
	OpProposeDraw     = "proposeDraw"
	OpRespondDraw     = "respondDraw"
	OpProposeTakeback = "proposeTakeback"
	OpRespondTakeback = "respondTakeback"
	OpResign          = "resign"
	OpSyncMatch       = "syncMatch"
	OpCheckStep       = "checkStep"
	OpJoinRoom        = "joinRoom"
	OpLeaveRoom       = "leaveRoom"
	OpReady           = "ready"
	OpKick            = "kick"
	OpWatch           = "watch"
	OpRecover         = "recover"
	OpListRooms       = "listRooms"
	OpPing            = "ping"
)
