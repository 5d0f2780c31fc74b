package xiangqidto

import "time"

// Event types pushed to clients.
const (
	EventMove             = "move"
	EventClock            = "clock"
	EventSettlement       = "settlement"
	EventProposal         = "proposal"
	EventProposalResponse = "proposalResponse"
	EventOpponentOffline  = "opponentOffline"
	EventOpponentOnline   = "opponentOnline"
	EventMatchStarted     = "matchStarted"
	EventRoomChanged      = "roomChanged"
	EventRecover          = "recover"
	EventKicked           = "kicked"
	EventBoard            = "board"
)

// Target kinds for fan-out.
const (
	TargetPlayer   = "player"
	TargetRoom     = "room"
	TargetWatchers = "watchers"
	TargetAll      = "all"
)

// Event is an outbound notification routed by Target.
type Event struct {
	Type       string `json:"type"`
	TargetKind string `json:"targetKind"`
	Target     string `json:"target,omitempty"`
	Data       any    `json:"data,omitempty"`
}

type PieceView struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Color string `json:"color"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

type SideClock struct {
	Total int `json:"total"`
	Step  int `json:"step"`
}

type ClockView struct {
	Red   SideClock `json:"red"`
	Black SideClock `json:"black"`
	ToAct string    `json:"toAct"`
}

// BoardView is one player's perspective of the current position.
type BoardView struct {
	MatchID    string      `json:"matchId"`
	RoomID     string      `json:"roomId"`
	Step       int         `json:"step"`
	Position   string      `json:"position"`
	Pieces     []PieceView `json:"pieces"`
	ToAct      string      `json:"toAct"`
	MyColor    string      `json:"myColor,omitempty"`
	LastFrom   *Point      `json:"lastFrom,omitempty"`
	LastTo     *Point      `json:"lastTo,omitempty"`
	Annotation string      `json:"annotation,omitempty"`
	Clock      ClockView   `json:"clock"`
}

type MoveEvent struct {
	MatchID    string    `json:"matchId"`
	PlayerID   string    `json:"playerId"`
	PieceID    string    `json:"pieceId"`
	From       Point     `json:"from"`
	To         Point     `json:"to"`
	Step       int       `json:"step"`
	Annotation string    `json:"annotation,omitempty"`
	InCheck    bool      `json:"inCheck"`
	Clock      ClockView `json:"clock"`
}

type MoveResult struct {
	IsOver    bool   `json:"isOver"`
	Reason    string `json:"reason"`
	NextToAct string `json:"nextToAct"`
	Step      int    `json:"step"`
}

type SettlementEvent struct {
	MatchID     string `json:"matchId"`
	RoomID      string `json:"roomId"`
	WinnerID    string `json:"winnerId,omitempty"`
	WinColor    string `json:"winColor,omitempty"`
	WinScore    int    `json:"winScore"`
	LoseScore   int    `json:"loseScore"`
	Reason      string `json:"reason"`
	Message     string `json:"message"`
	StepCount   int    `json:"stepCount"`
	ScoreCounts bool   `json:"scoreCounts"`
}

type ProposalEvent struct {
	MatchID  string `json:"matchId"`
	Kind     string `json:"kind"`
	PlayerID string `json:"playerId"`
	Accepted *bool  `json:"accepted,omitempty"`
}

type PresenceEvent struct {
	MatchID        string     `json:"matchId"`
	PlayerID       string     `json:"playerId"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	TimeoutSeconds int        `json:"timeoutSeconds,omitempty"`
}

type SeatView struct {
	PlayerID string `json:"playerId"`
	IsReady  bool   `json:"isReady"`
	IsFirst  bool   `json:"isFirst"`
	IsAdmin  bool   `json:"isAdmin"`
	Online   bool   `json:"online"`
}

type RoomView struct {
	RoomID     string     `json:"roomId"`
	Status     string     `json:"status"`
	Seats      []SeatView `json:"seats"`
	Spectators int        `json:"spectators"`
	MatchID    string     `json:"matchId,omitempty"`
}

type KickedEvent struct {
	RoomID  string `json:"roomId"`
	Seconds int    `json:"seconds"`
	Message string `json:"message"`
}

type MatchStartedEvent struct {
	MatchID string    `json:"matchId"`
	RoomID  string    `json:"roomId"`
	RedID   string    `json:"redId"`
	BlackID string    `json:"blackId"`
	Clock   ClockView `json:"clock"`
}

// RecoverView is what a reconnecting client receives.
type RecoverView struct {
	Kind            string           `json:"kind"`
	Page            string           `json:"page"`
	Role            string           `json:"role,omitempty"`
	Board           *BoardView       `json:"board,omitempty"`
	Room            *RoomView        `json:"room,omitempty"`
	PendingProposal *ProposalEvent   `json:"pendingProposal,omitempty"`
	OpponentOffline *PresenceEvent   `json:"opponentOffline,omitempty"`
	Settlement      *SettlementEvent `json:"settlement,omitempty"`
	WatchedEnded    bool             `json:"watchedEnded,omitempty"`
}
