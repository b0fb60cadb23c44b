package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/market"
	"github.com/sam-thetutor/wahala/internal/protocol"
	"github.com/sam-thetutor/wahala/internal/quiz"
	"github.com/sam-thetutor/wahala/internal/room"
)

// HeaderUserID carries the caller's identity on HTTP requests.
const HeaderUserID = "X-User-ID"

type (
	Option struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		IsCorrect bool   `json:"isCorrect,omitempty"`
	}

	Question struct {
		ID          string   `json:"id"`
		Text        string   `json:"text"`
		Options     []Option `json:"options"`
		TimeLimitMs int64    `json:"timeLimitMs"`
		BasePoints  int      `json:"basePoints,omitempty"`
	}

	Reward struct {
		Mode          string            `json:"mode"`
		Token         string            `json:"token,omitempty"`
		TotalWinners  int               `json:"totalWinners,omitempty"`
		RewardAmounts []decimal.Decimal `json:"rewardAmounts,omitempty"`
		TotalPool     decimal.Decimal   `json:"totalPool"`
		PointsWeight  float64           `json:"pointsWeight,omitempty"`
	}

	Quiz struct {
		ID                    string     `json:"id,omitempty"`
		Title                 string     `json:"title"`
		CreatorID             string     `json:"creatorId,omitempty"`
		Featured              bool       `json:"featured"`
		Questions             []Question `json:"questions"`
		BasePointsPerQuestion int        `json:"basePointsPerQuestion,omitempty"`
		SpeedBonusEnabled     bool       `json:"speedBonusEnabled"`
		MaxSpeedBonus         int        `json:"maxSpeedBonus,omitempty"`
		Reward                *Reward    `json:"reward,omitempty"`
	}

	Room struct {
		ID                 string     `json:"id"`
		QuizID             string     `json:"quizId"`
		AdminID            string     `json:"adminId,omitempty"`
		SessionNumber      int64      `json:"sessionNumber"`
		Phase              string     `json:"phase"`
		Active             bool       `json:"active"`
		MinParticipants    int        `json:"minParticipants"`
		MaxParticipants    int        `json:"maxParticipants"`
		ParticipantCount   int        `json:"participantCount"`
		CountdownSeconds   int        `json:"countdownSeconds"`
		ScheduledStartTime *time.Time `json:"scheduledStartTime,omitempty"`
		ActualStartTime    *time.Time `json:"actualStartTime,omitempty"`
		Version            int64      `json:"version"`
	}

	CreateRoomRequest struct {
		QuizID             string     `json:"quizId"`
		MinParticipants    int        `json:"minParticipants"`
		MaxParticipants    int        `json:"maxParticipants"`
		CountdownSeconds   *int       `json:"countdownSeconds"`
		ScheduledStartTime *time.Time `json:"scheduledStartTime"`
	}

	Participant struct {
		ID       string    `json:"id"`
		RoomID   string    `json:"roomId"`
		UserID   string    `json:"userId"`
		IsAdmin  bool      `json:"isAdmin"`
		IsReady  bool      `json:"isReady"`
		JoinTime time.Time `json:"joinTime"`
	}

	Leaderboard struct {
		RoomID  string                      `json:"roomId"`
		Entries []protocol.LeaderboardEntry `json:"entries"`
	}
)

func (a *API) createQuiz(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req Quiz
	if !bind(c, &req) {
		return
	}

	q, err := a.quizzes.CreateQuiz(c.Request.Context(), quiz.CreateQuizRequest{
		Title:                 req.Title,
		CreatorID:             user,
		Featured:              req.Featured,
		Questions:             toQuestions(req.Questions),
		BasePointsPerQuestion: req.BasePointsPerQuestion,
		SpeedBonusEnabled:     req.SpeedBonusEnabled,
		MaxSpeedBonus:         req.MaxSpeedBonus,
		Reward:                toReward(req.Reward),
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, fromQuiz(*q, true))
}

// getQuiz hides the answer key from everyone but the creator.
func (a *API) getQuiz(c *gin.Context) {
	q, err := a.quizzes.GetQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromQuiz(*q, c.GetHeader(HeaderUserID) == q.CreatorID))
}

func (a *API) createRoom(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if !bind(c, &req) {
		return
	}

	rm, err := a.rooms.CreateRoom(c.Request.Context(), room.CreateRoomRequest{
		QuizID:             req.QuizID,
		AdminID:            user,
		MinParticipants:    req.MinParticipants,
		MaxParticipants:    req.MaxParticipants,
		CountdownSeconds:   req.CountdownSeconds,
		ScheduledStartTime: req.ScheduledStartTime,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, fromRoom(*rm))
}

// getRoom answers with the live snapshot while the room runs and with the stored record afterwards.
func (a *API) getRoom(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := a.rooms.Snapshot(ctx, c.Param("id"), c.GetHeader(HeaderUserID))
	if err == nil {
		c.JSON(http.StatusOK, snap)
		return
	}
	if !errors.HasReason(err, errors.ReasonRoomNotActive) {
		fail(c, err)
		return
	}

	rm, err := a.rooms.Room(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fromRoom(*rm))
}

func (a *API) joinRoom(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	p, err := a.rooms.Join(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromParticipant(*p))
}

func (a *API) leaveRoom(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	if err := a.rooms.Leave(c.Request.Context(), c.Param("id"), user); err != nil {
		fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) setReady(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req protocol.SetReady
	if !bind(c, &req) {
		return
	}

	p, err := a.rooms.SetReady(c.Request.Context(), c.Param("id"), user, req.Ready)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromParticipant(*p))
}

func (a *API) startCountdown(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	rm, err := a.rooms.StartCountdown(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromRoom(*rm))
}

func (a *API) startImmediately(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	rm, err := a.rooms.StartImmediately(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromRoom(*rm))
}

func (a *API) deactivateRoom(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	rm, err := a.rooms.Deactivate(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromRoom(*rm))
}

func (a *API) submitAnswer(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req protocol.SubmitAnswer
	if !bind(c, &req) {
		return
	}

	res, err := a.rooms.SubmitAnswer(c.Request.Context(), c.Param("id"), user, room.SubmitAnswerRequest{
		QuestionID:      req.QuestionID,
		OptionID:        req.OptionID,
		ClientTimestamp: req.ClientTimestamp,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Leaderboard{RoomID: l.RoomID, Entries: protocol.Entries(l.Entries)})
}

func (a *API) getPayouts(c *gin.Context) {
	records, err := a.rooms.Payouts(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	out := make([]protocol.DistributionStatus, 0, len(records))
	for _, r := range records {
		out = append(out, protocol.Status(r))
	}
	c.JSON(http.StatusOK, out)
}

type (
	Market struct {
		ID                   string          `json:"id"`
		Question             string          `json:"question"`
		CreatorID            string          `json:"creatorId"`
		Token                string          `json:"token"`
		CreatorFeePercentage decimal.Decimal `json:"creatorFeePercentage"`
		YesShares            decimal.Decimal `json:"yesShares"`
		NoShares             decimal.Decimal `json:"noShares"`
		Block                uint64          `json:"block"`
		Resolved             bool            `json:"resolved"`
		Winner               string          `json:"winner,omitempty"`
	}

	CreateMarketRequest struct {
		Question             string          `json:"question"`
		Token                string          `json:"token"`
		CreatorFeePercentage decimal.Decimal `json:"creatorFeePercentage"`
	}

	TradeRequest struct {
		Side    string          `json:"side"`
		Outcome string          `json:"outcome"`
		Amount  decimal.Decimal `json:"amount"`
	}

	Trade struct {
		Side      string                         `json:"side"`
		Outcome   string                         `json:"outcome"`
		Amount    decimal.Decimal                `json:"amount"`
		Block     uint64                         `json:"block"`
		YesShares decimal.Decimal                `json:"yesShares"`
		NoShares  decimal.Decimal                `json:"noShares"`
		Refund    *protocol.DistributionComplete `json:"refund,omitempty"`
	}

	ResolveRequest struct {
		Outcome string `json:"outcome"`
	}

	Resolution struct {
		Market     Market                         `json:"market"`
		CreatorFee decimal.Decimal                `json:"creatorFee"`
		Payout     *protocol.DistributionComplete `json:"payout,omitempty"`
	}

	Claim struct {
		PlanID            string          `json:"planId"`
		Amount            decimal.Decimal `json:"amount"`
		TotalWinnerAmount decimal.Decimal `json:"totalWinnerAmount"`
		CreatorFee        decimal.Decimal `json:"creatorFee"`
		PlatformFee       decimal.Decimal `json:"platformFee"`
		Succeeded         int             `json:"succeeded"`
		Failed            int             `json:"failed"`
		TotalDistributed  decimal.Decimal `json:"totalDistributed"`
	}
)

func (a *API) createMarket(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req CreateMarketRequest
	if !bind(c, &req) {
		return
	}
	if req.Token == "" {
		req.Token = a.token
	}

	m, err := a.markets.Book().Create(c.Request.Context(), market.CreateRequest{
		Question:             req.Question,
		CreatorID:            user,
		Token:                req.Token,
		CreatorFeePercentage: req.CreatorFeePercentage,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, fromMarket(*m))
}

func (a *API) getMarket(c *gin.Context) {
	m, err := a.markets.Book().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, fromMarket(*m))
}

func (a *API) trade(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req TradeRequest
	if !bind(c, &req) {
		return
	}

	o, err := market.ParseOutcome(req.Outcome)
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	switch market.Side(req.Side) {
	case market.SideBuy:
		t, err := a.markets.Book().Buy(ctx, c.Param("id"), user, o, req.Amount)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, fromTrade(t, nil))

	case market.SideSell:
		s, err := a.markets.Sell(ctx, c.Param("id"), user, o, req.Amount)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, fromTrade(s.Trade, &s.Refund))

	default:
		fail(c, errors.Validation("side must be %q or %q, got %q", market.SideBuy, market.SideSell, req.Side))
	}
}

func (a *API) resolveMarket(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if !bind(c, &req) {
		return
	}

	o, err := market.ParseOutcome(req.Outcome)
	if err != nil {
		fail(c, err)
		return
	}

	res, err := a.markets.Resolve(c.Request.Context(), c.Param("id"), user, o)
	if err != nil {
		fail(c, err)
		return
	}

	out := Resolution{Market: fromMarket(res.Market), CreatorFee: res.CreatorFee}
	if res.Payout != nil {
		out.Payout = complete(*res.Payout)
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) claim(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	cl, err := a.markets.Claim(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Claim{
		PlanID:            cl.Plan.PlanID,
		Amount:            cl.Plan.Total,
		TotalWinnerAmount: cl.Winnings.TotalWinnerAmount,
		CreatorFee:        cl.Winnings.CreatorFee,
		PlatformFee:       cl.Winnings.PlatformFee,
		Succeeded:         cl.Summary.Succeeded,
		Failed:            cl.Summary.Failed,
		TotalDistributed:  cl.Summary.TotalDistributed,
	})
}

func identity(c *gin.Context) (string, bool) {
	user := c.GetHeader(HeaderUserID)
	if user == "" {
		fail(c, errors.Validation("missing %s header", HeaderUserID))
		return "", false
	}
	return user, true
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, errors.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}

func toQuestions(qs []Question) []domain.Question {
	out := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		dq := domain.Question{
			QuestionID: q.ID,
			Text:       q.Text,
			TimeLimit:  time.Duration(q.TimeLimitMs) * time.Millisecond,
			BasePoints: q.BasePoints,
			Options:    make([]domain.Option, 0, len(q.Options)),
		}
		for _, o := range q.Options {
			dq.Options = append(dq.Options, domain.Option{OptionID: o.ID, Text: o.Text, IsCorrect: o.IsCorrect})
		}
		out = append(out, dq)
	}
	return out
}

func toReward(r *Reward) domain.RewardConfig {
	if r == nil {
		return domain.RewardConfig{}
	}
	return domain.RewardConfig{
		Mode:          domain.RewardMode(r.Mode),
		Token:         r.Token,
		TotalWinners:  r.TotalWinners,
		RewardAmounts: r.RewardAmounts,
		TotalPool:     r.TotalPool,
		PointsWeight:  r.PointsWeight,
	}
}

func fromQuiz(q domain.QuizDefinition, withAnswers bool) Quiz {
	out := Quiz{
		ID:                    q.QuizID,
		Title:                 q.Title,
		CreatorID:             q.CreatorID,
		Featured:              q.Featured,
		BasePointsPerQuestion: q.BasePointsPerQuestion,
		SpeedBonusEnabled:     q.SpeedBonusEnabled,
		MaxSpeedBonus:         q.MaxSpeedBonus,
		Questions:             make([]Question, 0, len(q.Questions)),
	}
	for _, qs := range q.Questions {
		dq := Question{
			ID:          qs.QuestionID,
			Text:        qs.Text,
			TimeLimitMs: qs.TimeLimit.Milliseconds(),
			BasePoints:  qs.BasePoints,
		}
		for _, o := range qs.Options {
			dq.Options = append(dq.Options, Option{ID: o.OptionID, Text: o.Text, IsCorrect: withAnswers && o.IsCorrect})
		}
		out.Questions = append(out.Questions, dq)
	}
	if q.Reward.Enabled() {
		out.Reward = &Reward{
			Mode:          string(q.Reward.Mode),
			Token:         q.Reward.Token,
			TotalWinners:  q.Reward.TotalWinners,
			RewardAmounts: q.Reward.RewardAmounts,
			TotalPool:     q.Reward.TotalPool,
			PointsWeight:  q.Reward.PointsWeight,
		}
	}
	return out
}

func fromRoom(r domain.Room) Room {
	return Room{
		ID:                 r.RoomID,
		QuizID:             r.QuizID,
		AdminID:            r.AdminID,
		SessionNumber:      r.SessionNumber,
		Phase:              string(r.Phase),
		Active:             !r.Deactivated && !r.IsFinished(),
		MinParticipants:    r.MinParticipants,
		MaxParticipants:    r.MaxParticipants,
		ParticipantCount:   r.CurrentParticipantCount,
		CountdownSeconds:   r.CountdownSeconds,
		ScheduledStartTime: r.ScheduledStartTime,
		ActualStartTime:    r.ActualStartTime,
		Version:            r.Version,
	}
}

func fromParticipant(p domain.Participant) Participant {
	return Participant{
		ID:       p.ParticipantID,
		RoomID:   p.RoomID,
		UserID:   p.UserID,
		IsAdmin:  p.IsAdmin,
		IsReady:  p.IsReady,
		JoinTime: p.JoinTime,
	}
}

func fromMarket(m market.Market) Market {
	return Market{
		ID:                   m.MarketID,
		Question:             m.Question,
		CreatorID:            m.CreatorID,
		Token:                m.Token,
		CreatorFeePercentage: m.CreatorFeePercentage,
		YesShares:            m.Totals.Yes,
		NoShares:             m.Totals.No,
		Block:                m.Totals.Block,
		Resolved:             m.Resolved,
		Winner:               string(m.Winner),
	}
}

func fromTrade(t market.Trade, refund *domain.PayoutSummary) Trade {
	out := Trade{
		Side:      string(t.Side),
		Outcome:   string(t.Outcome),
		Amount:    t.Amount,
		Block:     t.Block,
		YesShares: t.Position.Yes,
		NoShares:  t.Position.No,
	}
	if refund != nil {
		out.Refund = complete(*refund)
	}
	return out
}

func complete(s domain.PayoutSummary) *protocol.DistributionComplete {
	return &protocol.DistributionComplete{
		PlanID:           s.PlanID,
		Succeeded:        s.Succeeded,
		Failed:           s.Failed,
		TotalDistributed: s.TotalDistributed.String(),
	}
}
