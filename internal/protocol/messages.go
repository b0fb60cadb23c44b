package protocol

type JoinRoom struct {
	UserID string `json:"userId"`
}

type LeaveRoom struct{}

type SetReady struct {
	Ready bool `json:"ready"`
}

type StartCountdown struct{}

type StartImmediately struct{}

type SubmitAnswer struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
	// ClientTimestamp is the client's clock in Unix milliseconds when the answer was picked.
	ClientTimestamp int64 `json:"clientTimestamp"`
}

type RequestSnapshot struct{}

type DeactivateRoom struct{}

func (JoinRoom) CommandType() string         { return TypeJoinRoom }
func (LeaveRoom) CommandType() string        { return TypeLeaveRoom }
func (SetReady) CommandType() string         { return TypeSetReady }
func (StartCountdown) CommandType() string   { return TypeStartCountdown }
func (StartImmediately) CommandType() string { return TypeStartImmediately }
func (SubmitAnswer) CommandType() string     { return TypeSubmitAnswer }
func (RequestSnapshot) CommandType() string  { return TypeRequestSnapshot }
func (DeactivateRoom) CommandType() string   { return TypeDeactivateRoom }

func (JoinRoom) isCommand()         {}
func (LeaveRoom) isCommand()        {}
func (SetReady) isCommand()         {}
func (StartCountdown) isCommand()   {}
func (StartImmediately) isCommand() {}
func (SubmitAnswer) isCommand()     {}
func (RequestSnapshot) isCommand()  {}
func (DeactivateRoom) isCommand()   {}

type ParticipantInfo struct {
	UserID   string `json:"userId"`
	IsAdmin  bool   `json:"isAdmin"`
	IsReady  bool   `json:"isReady"`
	JoinedAt int64  `json:"joinedAt"`
}

type RoomStats struct {
	RoomID           string            `json:"roomId"`
	Phase            string            `json:"phase"`
	SessionNumber    int64             `json:"sessionNumber"`
	ParticipantCount int               `json:"participantCount"`
	ReadyCount       int               `json:"readyCount"`
	MinParticipants  int               `json:"minParticipants"`
	MaxParticipants  int               `json:"maxParticipants"`
	Deactivated      bool              `json:"deactivated,omitempty"`
	Participants     []ParticipantInfo `json:"participants"`
}

type ParticipantJoined struct {
	UserID           string `json:"userId"`
	IsAdmin          bool   `json:"isAdmin"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantLeft struct {
	UserID           string `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantReady struct {
	UserID     string `json:"userId"`
	Ready      bool   `json:"ready"`
	ReadyCount int    `json:"readyCount"`
}

type CountdownTick struct {
	TimeLeft int `json:"timeLeft"`
}

type OptionInfo struct {
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
}

// QuestionStart never carries the answer key.
type QuestionStart struct {
	Index       int          `json:"index"`
	Total       int          `json:"total"`
	QuestionID  string       `json:"questionId"`
	Text        string       `json:"text"`
	Options     []OptionInfo `json:"options"`
	TimeLimitMs int64        `json:"timeLimitMs"`
}

type QuestionTimeUpdate struct {
	QuestionID string `json:"questionId"`
	TimeLeftMs int64  `json:"timeLeftMs"`
}

type AnswerAccepted struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type AnswerResult struct {
	UserID    string `json:"userId"`
	OptionID  string `json:"optionId,omitempty"`
	Answered  bool   `json:"answered"`
	IsCorrect bool   `json:"isCorrect"`
	Points    int    `json:"points"`
}

type AnswerReveal struct {
	QuestionID       string         `json:"questionId"`
	CorrectOptionIDs []string       `json:"correctOptionIds"`
	Results          []AnswerResult `json:"results"`
}

type LeaderboardEntry struct {
	UserID       string `json:"userId"`
	Score        int    `json:"score"`
	CorrectCount int    `json:"correctCount"`
	TotalTimeMs  int64  `json:"totalTimeMs"`
	Rank         int    `json:"rank"`
}

type LeaderboardUpdate struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type RedirectToResults struct {
	RoomID string `json:"roomId"`
}

type DistributionStatus struct {
	PlanID      string `json:"planId"`
	Recipient   string `json:"recipient"`
	Rank        int    `json:"rank"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Status      string `json:"status"`
	TransferRef string `json:"transferRef,omitempty"`
	Error       string `json:"error,omitempty"`
}

type DistributionComplete struct {
	PlanID           string `json:"planId"`
	Succeeded        int    `json:"succeeded"`
	Failed           int    `json:"failed"`
	TotalDistributed string `json:"totalDistributed"`
}

type GameEnd struct {
	Entries        []LeaderboardEntry `json:"entries"`
	RewardsEnabled bool               `json:"rewardsEnabled"`
}

type RoomEmpty struct {
	RoomID string `json:"roomId"`
}

// StateSnapshot resynchronizes a (re)connecting client with everything it needs to render the room.
type StateSnapshot struct {
	Stats       RoomStats            `json:"stats"`
	Question    *QuestionStart       `json:"question,omitempty"`
	TimeLeftMs  int64                `json:"timeLeftMs"`
	Answered    bool                 `json:"answered"`
	Leaderboard []LeaderboardEntry   `json:"leaderboard"`
	Payouts     []DistributionStatus `json:"payouts,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (RoomStats) EventType() string            { return TypeRoomStats }
func (ParticipantJoined) EventType() string    { return TypeParticipantJoined }
func (ParticipantLeft) EventType() string      { return TypeParticipantLeft }
func (ParticipantReady) EventType() string     { return TypeParticipantReady }
func (CountdownTick) EventType() string        { return TypeCountdownTick }
func (QuestionStart) EventType() string        { return TypeQuestionStart }
func (QuestionTimeUpdate) EventType() string   { return TypeQuestionTimeUpdate }
func (AnswerAccepted) EventType() string       { return TypeAnswerAccepted }
func (AnswerReveal) EventType() string         { return TypeAnswerReveal }
func (LeaderboardUpdate) EventType() string    { return TypeLeaderboardUpdate }
func (RedirectToResults) EventType() string    { return TypeRedirectToResults }
func (DistributionStatus) EventType() string   { return TypeDistributionStatus }
func (DistributionComplete) EventType() string { return TypeDistributionComplete }
func (GameEnd) EventType() string              { return TypeGameEnd }
func (RoomEmpty) EventType() string            { return TypeRoomEmpty }
func (StateSnapshot) EventType() string        { return TypeStateSnapshot }
func (Error) EventType() string                { return TypeError }

func (RoomStats) isEvent()            {}
func (ParticipantJoined) isEvent()    {}
func (ParticipantLeft) isEvent()      {}
func (ParticipantReady) isEvent()     {}
func (CountdownTick) isEvent()        {}
func (QuestionStart) isEvent()        {}
func (QuestionTimeUpdate) isEvent()   {}
func (AnswerAccepted) isEvent()       {}
func (AnswerReveal) isEvent()         {}
func (LeaderboardUpdate) isEvent()    {}
func (RedirectToResults) isEvent()    {}
func (DistributionStatus) isEvent()   {}
func (DistributionComplete) isEvent() {}
func (GameEnd) isEvent()              {}
func (RoomEmpty) isEvent()            {}
func (StateSnapshot) isEvent()        {}
func (Error) isEvent()                {}
