package domain

const (
	EventNameRoomUpdated        = "room.updated"
	EventNameParticipantUpdated = "participant.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
	EventNameSessionFinished    = "session.finished"
	EventNamePlanComputed       = "settlement.plan_computed"
	EventNamePayoutUpdated      = "payout.updated"
)

type EventRoomUpdated struct {
	Room Room
}

func (EventRoomUpdated) Name() string { return EventNameRoomUpdated }

type EventParticipantUpdated struct {
	Participant Participant
	Left        bool
}

func (EventParticipantUpdated) Name() string { return EventNameParticipantUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventSessionFinished struct {
	Room        Room
	Leaderboard Leaderboard
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventPlanComputed struct {
	Plan SettlementPlan
}

func (EventPlanComputed) Name() string { return EventNamePlanComputed }

type EventPayoutUpdated struct {
	RoomID string
	Record PayoutRecord
}

func (EventPayoutUpdated) Name() string { return EventNamePayoutUpdated }
