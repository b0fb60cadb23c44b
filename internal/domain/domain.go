package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseQuestion  Phase = "question"
	PhaseFinished  Phase = "finished"
)

// Room is one live run of a quiz definition.
type Room struct {
	RoomID  string
	QuizID  string
	AdminID string

	MinParticipants int
	MaxParticipants int

	Phase       Phase
	Deactivated bool

	CountdownSeconds   int
	ScheduledStartTime *time.Time
	ActualStartTime    *time.Time

	SessionNumber           int64
	CurrentParticipantCount int

	// Version increases on every mutation so that stale snapshots never overwrite newer ones.
	Version    int64
	CreateTime time.Time
}

// IsWaiting, IsStarted and IsFinished are mutually exclusive. A room in countdown counts as started.
func (r Room) IsWaiting() bool  { return r.Phase == PhaseWaiting }
func (r Room) IsStarted() bool  { return r.Phase == PhaseCountdown || r.Phase == PhaseQuestion }
func (r Room) IsFinished() bool { return r.Phase == PhaseFinished }

type Participant struct {
	ParticipantID string
	RoomID        string
	UserID        string
	IsAdmin       bool
	IsReady       bool
	JoinTime      time.Time
}

type QuizDefinition struct {
	QuizID    string
	Title     string
	CreatorID string
	// Featured quizzes are launched publicly, their first joiner administers the room.
	Featured bool

	Questions []Question

	BasePointsPerQuestion int
	SpeedBonusEnabled     bool
	MaxSpeedBonus         int

	Reward RewardConfig
}

type Question struct {
	QuestionID string
	Text       string
	Options    []Option
	TimeLimit  time.Duration
	// BasePoints overrides QuizDefinition.BasePointsPerQuestion when positive.
	BasePoints int
}

type Option struct {
	OptionID  string
	Text      string
	IsCorrect bool
}

type RewardMode string

const (
	RewardNone      RewardMode = ""
	RewardLinear    RewardMode = "LINEAR"
	RewardQuadratic RewardMode = "QUADRATIC"
	// RewardTransfer plans pay a single recipient, e.g. a market claim or refund.
	RewardTransfer RewardMode = "TRANSFER"
)

type RewardConfig struct {
	Mode  RewardMode
	Token string

	// LINEAR
	TotalWinners  int
	RewardAmounts []decimal.Decimal

	// QUADRATIC
	TotalPool    decimal.Decimal
	PointsWeight float64
}

func (c RewardConfig) Enabled() bool { return c.Mode != RewardNone }

type Answer struct {
	UserID     string
	QuestionID string
	OptionID   string
	IsCorrect  bool
	Elapsed    time.Duration
	Points     int
}

// Standing is a participant's cumulative result within a session.
type Standing struct {
	UserID       string
	Score        int
	TotalTime    time.Duration
	CorrectCount int
	Rank         int
}

// Leaderboard lists standings ordered by rank.
type Leaderboard struct {
	RoomID  string
	Entries []Standing
}

type SettlementPlan struct {
	PlanID     string
	SessionKey string
	Mode       RewardMode
	Token      string
	Entries    []PlanEntry
	Total      decimal.Decimal
}

type PlanEntry struct {
	Recipient string
	Amount    decimal.Decimal
	Rank      int
}

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSuccess PayoutStatus = "success"
	PayoutFailed  PayoutStatus = "failed"
)

type PayoutRecord struct {
	RecordID    string
	PlanID      string
	Rank        int
	Recipient   string
	Amount      decimal.Decimal
	Token       string
	Attempt     int
	Status      PayoutStatus
	TransferRef string
	Error       string
	UpdateTime  time.Time
}

type PayoutSummary struct {
	PlanID           string
	Succeeded        int
	Failed           int
	TotalDistributed decimal.Decimal
}
