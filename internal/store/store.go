// Package store defines the durable records of rooms, matches and players
// and the repository interfaces the services depend on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-xiangqi/internal/board"
	"github.com/park285/cheese-xiangqi/internal/clock"
)

var (
	ErrNotFound = errors.New("store: record not found")
	ErrConflict = errors.New("store: conflicting record")
)

type MatchStatus string

const (
	MatchActive   MatchStatus = "active"
	MatchTimedOut MatchStatus = "timedOut"
	MatchSettled  MatchStatus = "settled"
)

// Terminal reports whether no further moves may be applied.
func (s MatchStatus) Terminal() bool { return s == MatchTimedOut || s == MatchSettled }

type Match struct {
	ID            string
	RoomID        string
	Status        MatchStatus
	ResultCode    string
	ResultMessage string
	WinnerID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MatchResult is written together with a terminal status.
type MatchResult struct {
	Code     string
	Message  string
	WinnerID string
}

type Participant struct {
	MatchID    string
	PlayerID   string
	OpponentID string
	Color      board.Color
	ScoreDelta int
}

// MoveRecord is one step of a match in canonical orientation, with the
// clock snapshot taken right after the move.
type MoveRecord struct {
	MatchID      string
	Step         int
	Position     string
	Acting       board.Color
	Red          clock.Side
	Black        clock.Side
	From         *board.Point
	To           *board.Point
	MovedID      string
	Annotation   string
	ThinkSeconds int
	CreatedAt    time.Time
}

// ToAct is the side whose turn follows this record.
func (r *MoveRecord) ToAct() board.Color {
	if r.Step == 0 {
		return board.Red
	}
	return r.Acting.Opponent()
}

type RoomStatus string

const (
	RoomEmpty           RoomStatus = "empty"
	RoomWaiting         RoomStatus = "waiting"
	RoomMultipleWaiting RoomStatus = "multipleWaiting"
	RoomMatched         RoomStatus = "matched"
	RoomInMatch         RoomStatus = "inMatch"
	RoomTimedOut        RoomStatus = "timedOut"
	RoomMatchOver       RoomStatus = "matchOver"
)

type Room struct {
	ID        string
	Status    RoomStatus
	MatchID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PlayerStatus string

const (
	PlayerPlatform PlayerStatus = "platform"
	PlayerInRoom   PlayerStatus = "inRoom"
	PlayerWatching PlayerStatus = "watching"
	PlayerInMatch  PlayerStatus = "inMatch"
)

type Page string

const (
	PageLogin         Page = "login"
	PagePlatform      Page = "platform"
	PagePlayerRandom  Page = "playerRandom"
	PagePlayerFreedom Page = "playerFreedom"
	PageBoard         Page = "board"
	PageWatch         Page = "watch"
	PageReview        Page = "review"
)

// Room join types.
const (
	JoinRandom  = "random"
	JoinFreedom = "freedom"
)

// RoomPage is the lobby page a seated player returns to.
func RoomPage(joinType string) Page {
	if joinType == JoinRandom {
		return PagePlayerRandom
	}
	return PagePlayerFreedom
}

// PlayerState is the durable session row of one player.
type PlayerState struct {
	PlayerID       string
	Status         PlayerStatus
	Page           Page
	RoomID         string
	MatchID        string
	JoinType       string
	IsReady        bool
	IsFirst        bool
	IsRoomAdmin    bool
	DisconnectedAt *time.Time
	ActionAt       time.Time
}

// ResetToPlatform clears every room and match binding.
func (p *PlayerState) ResetToPlatform(page Page) {
	p.Status = PlayerPlatform
	p.Page = page
	p.RoomID = ""
	p.MatchID = ""
	p.JoinType = ""
	p.IsReady = false
	p.IsFirst = false
	p.IsRoomAdmin = false
}

type ProposalKind string

const (
	ProposalDraw     ProposalKind = "draw"
	ProposalTakeback ProposalKind = "takeback"
	ProposalResign   ProposalKind = "resign"
)

type ProposalResult string

const (
	ProposalPending  ProposalResult = "pending"
	ProposalAccepted ProposalResult = "accepted"
	ProposalRejected ProposalResult = "rejected"
)

type Proposal struct {
	ID          string
	MatchID     string
	PlayerID    string
	Kind        ProposalKind
	Result      ProposalResult
	Step        int
	CreatedAt   time.Time
	RespondedAt *time.Time
}

type Rating struct {
	PlayerID string
	Score    int
	Wins     int
	Losses   int
	Draws    int
	Games    int
}

type GameOutcome string

const (
	OutcomeWin  GameOutcome = "win"
	OutcomeLoss GameOutcome = "loss"
	OutcomeDraw GameOutcome = "draw"
)

type Matches interface {
	CreateMatch(ctx context.Context, m *Match, parts []Participant) error
	GetMatch(ctx context.Context, id string) (*Match, error)
	ActiveMatches(ctx context.Context) ([]Match, error)
	// TransitionMatch moves a match from one status to another and reports
	// whether this call performed the transition.
	TransitionMatch(ctx context.Context, id string, from, to MatchStatus, result MatchResult) (bool, error)
	Participants(ctx context.Context, matchID string) ([]Participant, error)
	SetScoreDelta(ctx context.Context, matchID, playerID string, delta int) error
}

type Moves interface {
	AppendMove(ctx context.Context, rec *MoveRecord) error
	LatestMove(ctx context.Context, matchID string) (*MoveRecord, error)
	ListMoves(ctx context.Context, matchID string) ([]MoveRecord, error)
	DeleteLatestMove(ctx context.Context, matchID string) error
}

type Players interface {
	GetPlayer(ctx context.Context, playerID string) (*PlayerState, error)
	SavePlayer(ctx context.Context, p *PlayerState) error
	PlayersInRoom(ctx context.Context, roomID string) ([]PlayerState, error)
	WatchersOf(ctx context.Context, roomID string) ([]PlayerState, error)
	DisconnectedBefore(ctx context.Context, status PlayerStatus, before time.Time) ([]PlayerState, error)
}

type Rooms interface {
	GetRoom(ctx context.Context, id string) (*Room, error)
	SaveRoom(ctx context.Context, r *Room) error
	CountOccupiedRooms(ctx context.Context) (int, error)
}

type Proposals interface {
	CreateProposal(ctx context.Context, p *Proposal) error
	PendingProposal(ctx context.Context, matchID string, kind ProposalKind) (*Proposal, error)
	LastProposal(ctx context.Context, matchID, playerID string, kind ProposalKind) (*Proposal, error)
	ResolveProposal(ctx context.Context, id string, result ProposalResult, at time.Time) error
	CountProposals(ctx context.Context, matchID, playerID string, kind ProposalKind, result ProposalResult) (int, error)
}

type Ratings interface {
	GetRating(ctx context.Context, playerID string) (*Rating, error)
	RecordResult(ctx context.Context, playerID string, delta int, outcome GameOutcome) error
}

// Store is the full persistence surface. InTx runs fn so that every write
// made through the ctx it receives commits or rolls back together.
type Store interface {
	Matches
	Moves
	Players
	Rooms
	Proposals
	Ratings
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}
