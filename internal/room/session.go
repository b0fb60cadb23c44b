package room

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/metrics"
	"github.com/sam-thetutor/wahala/internal/protocol"
	"github.com/sam-thetutor/wahala/internal/scoring"
	"github.com/sam-thetutor/wahala/internal/settlement"
)

const (
	inboxSize  = 64
	outboxSize = 1024
)

// message is anything a session actor accepts on its inbox.
type message interface {
	isMessage()
}

// request carries a client command. at is the server receipt time, which is what answers are timed by.
type request struct {
	userID string
	at     time.Time
	cmd    protocol.Command
	reply  chan result
}

type result struct {
	value any
	err   error
}

type snapshotRequest struct {
	userID string
	reply  chan protocol.StateSnapshot
}

type roomRequest struct {
	reply chan domain.Room
}

type autoStartRequest struct {
	now   time.Time
	reply chan bool
}

type payoutUpdate struct {
	record domain.PayoutRecord
}

type payoutDone struct {
	summary domain.PayoutSummary
	err     error
}

func (*request) isMessage()          {}
func (*snapshotRequest) isMessage()  {}
func (*roomRequest) isMessage()      {}
func (*autoStartRequest) isMessage() {}
func (payoutUpdate) isMessage()      {}
func (payoutDone) isMessage()        {}

type deadlineKind int

const (
	deadlineNone deadlineKind = iota
	deadlineReveal
	deadlineAdvance
	deadlineRetire
)

// session is the actor owning one room. Every field below is touched only by run.
type session struct {
	id       string
	settings settings

	quiz  domain.QuizDefinition
	room  domain.Room
	parts map[string]*domain.Participant
	order []string
	board *scoring.Board

	countdownLeft int
	lastTick      time.Time

	question      int
	questionStart time.Time
	revealed      bool
	answers       map[string]domain.Answer

	ticker   *time.Ticker
	deadline *time.Timer
	kind     deadlineKind

	settling    bool
	payoutKeys  []string
	payoutState map[string]protocol.DistributionStatus

	inbox  chan message
	outbox chan event.Event
	done   chan struct{}

	bc         Broadcaster
	bus        *event.Bus
	dispatcher Dispatcher
	now        func() time.Time
}

type settings struct {
	tickInterval time.Duration
	revealDelay  time.Duration
	retention    time.Duration
}

func newSession(quiz domain.QuizDefinition, room domain.Room, s settings, bc Broadcaster, bus *event.Bus, d Dispatcher) *session {
	return &session{
		id:          room.RoomID,
		settings:    s,
		quiz:        quiz,
		room:        room,
		parts:       make(map[string]*domain.Participant),
		board:       scoring.NewBoard(),
		question:    -1,
		payoutState: make(map[string]protocol.DistributionStatus),
		inbox:       make(chan message, inboxSize),
		outbox:      make(chan event.Event, outboxSize),
		done:        make(chan struct{}),
		bc:          bc,
		bus:         bus,
		dispatcher:  d,
		now:         time.Now,
	}
}

// run is the actor loop. It returns when ctx is cancelled or the finished room has been retained long enough.
func (s *session) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "room: actor panic", "room", s.room.RoomID, "error", r, "stack", string(debug.Stack()))
		}
		s.stopTicker()
		s.stopDeadline()
		close(s.done)
		close(s.outbox)
	}()

	go s.drain(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.inbox:
			s.handle(ctx, m)
		case <-s.tickC():
			s.onTick()
		case <-s.deadlineC():
			if s.onDeadline() {
				slog.InfoContext(ctx, "room: retired", "room", s.room.RoomID)
				return
			}
		}
	}
}

// drain publishes domain events in the order the actor produced them without ever blocking the actor.
func (s *session) drain(ctx context.Context) {
	for e := range s.outbox {
		s.bus.Publish(ctx, e)
	}
}

func (s *session) publish(e event.Event) {
	if s.bus == nil {
		return
	}

	select {
	case s.outbox <- e:
	default:
		metrics.OutboxDropped.Inc()
		slog.Warn("room: outbox full, event dropped", "room", s.room.RoomID, "event", e.Name())
	}
}

// post delivers a message from a goroutine owned by this session. It gives up once the actor is gone.
func (s *session) post(m message) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

func (s *session) handle(ctx context.Context, m message) {
	switch m := m.(type) {
	case *request:
		v, err := s.execute(ctx, m)
		m.reply <- result{value: v, err: err}

		// The last answer, or the departure of the last participant still owing one, closes the question early.
		if s.answering() && s.allAnswered() {
			s.reveal(ctx)
		}
	case *snapshotRequest:
		m.reply <- s.snapshot(m.userID)
	case *roomRequest:
		m.reply <- s.room
	case *autoStartRequest:
		m.reply <- s.autoStart(ctx, m.now)
	case payoutUpdate:
		s.onPayoutUpdate(m.record)
	case payoutDone:
		s.onPayoutDone(ctx, m.summary, m.err)
	default:
		panic(fmt.Sprintf("room: unhandled message %T", m))
	}
}

func (s *session) execute(ctx context.Context, req *request) (any, error) {
	switch c := req.cmd.(type) {
	case *protocol.JoinRoom:
		return s.join(ctx, req.userID, req.at)
	case *protocol.LeaveRoom:
		return nil, s.leave(ctx, req.userID)
	case *protocol.SetReady:
		return s.setReady(req.userID, c.Ready)
	case *protocol.StartCountdown:
		return s.startCountdown(ctx, req.userID)
	case *protocol.StartImmediately:
		return s.startImmediately(ctx, req.userID)
	case *protocol.SubmitAnswer:
		return s.submitAnswer(req.userID, c, req.at)
	case *protocol.RequestSnapshot:
		snap := s.snapshot(req.userID)
		return &snap, nil
	case *protocol.DeactivateRoom:
		return s.deactivate(ctx, req.userID)
	default:
		return nil, errors.Validation("unsupported command %T", req.cmd)
	}
}

func (s *session) join(ctx context.Context, userID string, at time.Time) (*domain.Participant, error) {
	if userID == "" {
		return nil, errors.Validation("user identity is required")
	}
	if s.room.Deactivated || s.room.IsFinished() {
		return nil, errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", s.room.RoomID)
	}

	if p, ok := s.parts[userID]; ok {
		if !p.IsAdmin && ResolveAdmin(s.quiz, s.room, userID, false) {
			p.IsAdmin = true
			s.publish(domain.EventParticipantUpdated{Participant: *p})
			s.broadcastStats()
		}
		out := *p
		return &out, nil
	}

	if s.room.CurrentParticipantCount >= s.room.MaxParticipants {
		return nil, errors.Precondition(errors.ReasonRoomFull, "room %s is full (%d/%d)",
			s.room.RoomID, s.room.CurrentParticipantCount, s.room.MaxParticipants)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}

	p := &domain.Participant{
		ParticipantID: id.String(),
		RoomID:        s.room.RoomID,
		UserID:        userID,
		IsAdmin:       ResolveAdmin(s.quiz, s.room, userID, len(s.parts) == 0),
		JoinTime:      at,
	}
	if p.IsAdmin && s.room.AdminID == "" {
		s.room.AdminID = userID
	}

	s.parts[userID] = p
	s.order = append(s.order, userID)
	s.board.Add(userID)
	s.room.CurrentParticipantCount = len(s.parts)
	s.touch()

	slog.InfoContext(ctx, "room: participant joined", "room", s.room.RoomID, "user", userID, "admin", p.IsAdmin)

	s.publish(domain.EventParticipantUpdated{Participant: *p})
	s.bc.Broadcast(s.room.RoomID, &protocol.ParticipantJoined{
		UserID:           userID,
		IsAdmin:          p.IsAdmin,
		ParticipantCount: s.room.CurrentParticipantCount,
	})
	s.broadcastStats()

	out := *p
	return &out, nil
}

func (s *session) leave(ctx context.Context, userID string) error {
	p, ok := s.parts[userID]
	if !ok {
		return errors.Precondition(errors.ReasonNotParticipant, "%s is not in room %s", userID, s.room.RoomID)
	}

	delete(s.parts, userID)
	for i, u := range s.order {
		if u == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.room.CurrentParticipantCount = len(s.parts)
	s.touch()

	slog.InfoContext(ctx, "room: participant left", "room", s.room.RoomID, "user", userID)

	s.publish(domain.EventParticipantUpdated{Participant: *p, Left: true})
	s.bc.Broadcast(s.room.RoomID, &protocol.ParticipantLeft{
		UserID:           userID,
		ParticipantCount: s.room.CurrentParticipantCount,
	})
	s.broadcastStats()

	if len(s.parts) == 0 {
		s.bc.Broadcast(s.room.RoomID, &protocol.RoomEmpty{RoomID: s.room.RoomID})
	}

	return nil
}

func (s *session) setReady(userID string, ready bool) (*domain.Participant, error) {
	if s.room.IsFinished() {
		return nil, errors.Precondition(errors.ReasonRoomNotActive, "room %s is finished", s.room.RoomID)
	}

	p, ok := s.parts[userID]
	if !ok {
		return nil, errors.Precondition(errors.ReasonNotParticipant, "%s is not in room %s", userID, s.room.RoomID)
	}

	if p.IsReady != ready {
		p.IsReady = ready
		s.publish(domain.EventParticipantUpdated{Participant: *p})
		s.bc.Broadcast(s.room.RoomID, &protocol.ParticipantReady{
			UserID:     userID,
			Ready:      ready,
			ReadyCount: s.readyCount(),
		})
		s.broadcastStats()
	}

	out := *p
	return &out, nil
}

func (s *session) authorize(userID string) error {
	if p, ok := s.parts[userID]; ok && p.IsAdmin {
		return nil
	}
	if ResolveAdmin(s.quiz, s.room, userID, false) {
		return nil
	}

	return errors.New(errors.CodePermissionDenied, errors.WithReason(errors.ReasonNotAdmin),
		errors.WithMessagef("%s does not administer room %s", userID, s.room.RoomID))
}

func (s *session) checkCanStart() error {
	if !s.room.IsWaiting() {
		return errors.Precondition(errors.ReasonInvalidTransition, "room %s is %s, not waiting", s.room.RoomID, s.room.Phase)
	}
	if s.room.Deactivated {
		return errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", s.room.RoomID)
	}
	if s.room.CurrentParticipantCount < s.room.MinParticipants {
		return errors.Precondition(errors.ReasonNotEnoughParticipants, "room %s needs %d more participant(s)",
			s.room.RoomID, s.room.MinParticipants-s.room.CurrentParticipantCount)
	}

	return nil
}

func (s *session) startCountdown(ctx context.Context, userID string) (*domain.Room, error) {
	if err := s.authorize(userID); err != nil {
		return nil, err
	}
	if err := s.checkCanStart(); err != nil {
		return nil, err
	}

	s.beginCountdown(ctx)

	out := s.room
	return &out, nil
}

func (s *session) startImmediately(ctx context.Context, userID string) (*domain.Room, error) {
	if err := s.authorize(userID); err != nil {
		return nil, err
	}

	if s.room.Phase != domain.PhaseCountdown {
		if err := s.checkCanStart(); err != nil {
			return nil, err
		}
	}

	s.stopTicker()
	s.startQuestion(ctx, 0)

	out := s.room
	return &out, nil
}

// deactivate closes a room that has not started. Nobody can join or start it afterwards and the actor retires
// once the retention period is over. Deactivating twice is a no-op.
func (s *session) deactivate(ctx context.Context, userID string) (*domain.Room, error) {
	if err := s.authorize(userID); err != nil {
		return nil, err
	}

	if !s.room.Deactivated {
		if !s.room.IsWaiting() {
			return nil, errors.Precondition(errors.ReasonInvalidTransition,
				"room %s is %s, only a waiting room can be deactivated", s.room.RoomID, s.room.Phase)
		}

		s.room.Deactivated = true
		s.touch()
		s.broadcastStats()
		s.setDeadline(s.settings.retention, deadlineRetire)

		slog.InfoContext(ctx, "room: deactivated", "room", s.room.RoomID, "by", userID)
	}

	out := s.room
	return &out, nil
}

func (s *session) autoStart(ctx context.Context, now time.Time) bool {
	sched := s.room.ScheduledStartTime
	if sched == nil || now.Before(*sched) {
		return false
	}
	if err := s.checkCanStart(); err != nil {
		slog.DebugContext(ctx, "room: auto-start skipped", "room", s.room.RoomID, "error", err)
		return false
	}

	slog.InfoContext(ctx, "room: auto-start", "room", s.room.RoomID, "scheduled", *sched)
	s.beginCountdown(ctx)
	return true
}

func (s *session) beginCountdown(ctx context.Context) {
	if s.room.CountdownSeconds <= 0 {
		s.startQuestion(ctx, 0)
		return
	}

	s.setPhase(domain.PhaseCountdown)
	s.countdownLeft = s.room.CountdownSeconds
	s.lastTick = s.now()
	s.bc.Broadcast(s.room.RoomID, &protocol.CountdownTick{TimeLeft: s.countdownLeft})
	s.startTicker()
}

func (s *session) startQuestion(ctx context.Context, i int) {
	if s.room.ActualStartTime == nil {
		t := s.now()
		s.room.ActualStartTime = &t
	}
	if s.room.Phase != domain.PhaseQuestion {
		s.setPhase(domain.PhaseQuestion)
	}

	q := s.quiz.Questions[i]
	s.question = i
	s.questionStart = s.now()
	s.revealed = false
	s.answers = make(map[string]domain.Answer, len(s.parts))

	slog.InfoContext(ctx, "room: question started", "room", s.room.RoomID, "question", q.QuestionID, "index", i)

	s.bc.Broadcast(s.room.RoomID, s.questionEvent())
	s.startTicker()
	s.setDeadline(q.TimeLimit, deadlineReveal)
}

func (s *session) submitAnswer(userID string, c *protocol.SubmitAnswer, at time.Time) (*protocol.AnswerAccepted, error) {
	if _, ok := s.parts[userID]; !ok {
		return nil, errors.Precondition(errors.ReasonNotParticipant, "%s is not in room %s", userID, s.room.RoomID)
	}
	if !s.answering() {
		return nil, errors.Precondition(errors.ReasonInvalidTransition, "room %s is not accepting answers", s.room.RoomID)
	}

	q := s.quiz.Questions[s.question]
	if c.QuestionID != q.QuestionID {
		return nil, errors.Precondition(errors.ReasonWrongQuestion, "question %s is not the current question", c.QuestionID)
	}
	if !hasOption(q, c.OptionID) {
		return nil, errors.Validation("option %s does not belong to question %s", c.OptionID, q.QuestionID)
	}
	if _, ok := s.answers[userID]; ok {
		return nil, errors.Precondition(errors.ReasonAlreadyAnswered, "%s already answered question %s", userID, q.QuestionID)
	}

	elapsed := min(max(at.Sub(s.questionStart), 0), q.TimeLimit)
	correct, points := scoring.ScoreAnswer(s.quiz, q, c.OptionID, elapsed)
	s.answers[userID] = domain.Answer{
		UserID:     userID,
		QuestionID: q.QuestionID,
		OptionID:   c.OptionID,
		IsCorrect:  correct,
		Elapsed:    elapsed,
		Points:     points,
	}

	return &protocol.AnswerAccepted{QuestionID: q.QuestionID, OptionID: c.OptionID}, nil
}

func (s *session) answering() bool {
	return s.room.Phase == domain.PhaseQuestion && !s.revealed
}

func (s *session) allAnswered() bool {
	if len(s.parts) == 0 {
		return false
	}
	for u := range s.parts {
		if _, ok := s.answers[u]; !ok {
			return false
		}
	}
	return true
}

func (s *session) reveal(ctx context.Context) {
	s.stopTicker()
	s.stopDeadline()
	s.revealed = true

	q := s.quiz.Questions[s.question]

	ev := &protocol.AnswerReveal{QuestionID: q.QuestionID}
	for _, o := range q.Options {
		if o.IsCorrect {
			ev.CorrectOptionIDs = append(ev.CorrectOptionIDs, o.OptionID)
		}
	}

	for _, u := range s.order {
		a, ok := s.answers[u]
		if !ok {
			s.board.Charge(u, q.TimeLimit)
			ev.Results = append(ev.Results, protocol.AnswerResult{UserID: u})
			continue
		}
		s.board.Record(a)
		ev.Results = append(ev.Results, protocol.AnswerResult{
			UserID:    u,
			OptionID:  a.OptionID,
			Answered:  true,
			IsCorrect: a.IsCorrect,
			Points:    a.Points,
		})
	}
	// Participants who answered and then left keep their points.
	for u, a := range s.answers {
		if _, ok := s.parts[u]; !ok {
			s.board.Record(a)
		}
	}

	ranked := s.board.Ranked()
	s.bc.Broadcast(s.room.RoomID, ev)
	s.bc.Broadcast(s.room.RoomID, &protocol.LeaderboardUpdate{Entries: protocol.Entries(ranked)})
	s.publish(domain.EventLeaderboardUpdated{Leaderboard: domain.Leaderboard{RoomID: s.room.RoomID, Entries: ranked}})

	slog.InfoContext(ctx, "room: answers revealed", "room", s.room.RoomID, "question", q.QuestionID, "answers", len(s.answers))

	if s.settings.revealDelay > 0 {
		s.setDeadline(s.settings.revealDelay, deadlineAdvance)
		return
	}
	s.advance(ctx)
}

func (s *session) advance(ctx context.Context) {
	if next := s.question + 1; next < len(s.quiz.Questions) {
		s.startQuestion(ctx, next)
		return
	}
	s.finish(ctx)
}

func (s *session) finish(ctx context.Context) {
	s.stopTicker()
	s.stopDeadline()
	s.setPhase(domain.PhaseFinished)

	ranked := s.board.Ranked()
	lb := domain.Leaderboard{RoomID: s.room.RoomID, Entries: ranked}

	s.bc.Broadcast(s.room.RoomID, &protocol.GameEnd{
		Entries:        protocol.Entries(ranked),
		RewardsEnabled: s.quiz.Reward.Enabled(),
	})
	s.bc.Broadcast(s.room.RoomID, &protocol.RedirectToResults{RoomID: s.room.RoomID})
	s.publish(domain.EventSessionFinished{Room: s.room, Leaderboard: lb})

	slog.InfoContext(ctx, "room: finished", "room", s.room.RoomID, "participants", len(ranked))

	if !s.quiz.Reward.Enabled() || s.dispatcher == nil || len(ranked) == 0 {
		s.setDeadline(s.settings.retention, deadlineRetire)
		return
	}

	plan, err := settlement.Plan(s.sessionKey(), s.quiz.Reward, ranked)
	if err != nil {
		slog.ErrorContext(ctx, "room: settlement failed", "room", s.room.RoomID, "error", err)
		s.bc.Broadcast(s.room.RoomID, protocol.ErrorEvent(err))
		s.setDeadline(s.settings.retention, deadlineRetire)
		return
	}

	metrics.PlansComputed.WithLabelValues(string(plan.Mode)).Inc()
	s.publish(domain.EventPlanComputed{Plan: plan})

	for _, e := range plan.Entries {
		k := settlement.EntryKey(plan.PlanID, e)
		s.payoutKeys = append(s.payoutKeys, k)
		s.payoutState[k] = protocol.DistributionStatus{
			PlanID:    plan.PlanID,
			Recipient: e.Recipient,
			Rank:      e.Rank,
			Amount:    e.Amount.String(),
			Token:     plan.Token,
			Status:    string(domain.PayoutPending),
		}
	}

	s.settling = true
	go func() {
		summary, err := s.dispatcher.Dispatch(ctx, plan, func(r domain.PayoutRecord) {
			s.post(payoutUpdate{record: r})
		})
		s.post(payoutDone{summary: summary, err: err})
	}()
}

func (s *session) onPayoutUpdate(r domain.PayoutRecord) {
	st := protocol.Status(r)
	s.payoutState[settlement.EntryKey(r.PlanID, domain.PlanEntry{Recipient: r.Recipient, Rank: r.Rank})] = st

	s.bc.Broadcast(s.room.RoomID, &st)
	s.publish(domain.EventPayoutUpdated{RoomID: s.room.RoomID, Record: r})
}

func (s *session) onPayoutDone(ctx context.Context, summary domain.PayoutSummary, err error) {
	s.settling = false
	if err != nil {
		slog.ErrorContext(ctx, "room: payout dispatch", "room", s.room.RoomID, "error", err)
		s.bc.Broadcast(s.room.RoomID, protocol.ErrorEvent(err))
	}

	s.bc.Broadcast(s.room.RoomID, &protocol.DistributionComplete{
		PlanID:           summary.PlanID,
		Succeeded:        summary.Succeeded,
		Failed:           summary.Failed,
		TotalDistributed: summary.TotalDistributed.String(),
	})
	s.setDeadline(s.settings.retention, deadlineRetire)
}

func (s *session) onTick() {
	switch {
	case s.room.Phase == domain.PhaseCountdown:
		s.countdownLeft--
		s.lastTick = s.now()
		s.bc.Broadcast(s.room.RoomID, &protocol.CountdownTick{TimeLeft: max(s.countdownLeft, 0)})
		if s.countdownLeft <= 0 {
			s.stopTicker()
			s.startQuestion(context.Background(), 0)
		}
	case s.answering():
		s.bc.Broadcast(s.room.RoomID, &protocol.QuestionTimeUpdate{
			QuestionID: s.quiz.Questions[s.question].QuestionID,
			TimeLeftMs: s.timeLeft().Milliseconds(),
		})
	default:
		s.stopTicker()
	}
}

// onDeadline handles the pending deadline and reports whether the actor should exit.
func (s *session) onDeadline() bool {
	kind := s.kind
	s.kind = deadlineNone
	s.deadline = nil

	switch kind {
	case deadlineReveal:
		if s.answering() {
			s.reveal(context.Background())
		}
	case deadlineAdvance:
		s.advance(context.Background())
	case deadlineRetire:
		return !s.settling
	case deadlineNone:
	}

	return false
}

func (s *session) snapshot(userID string) protocol.StateSnapshot {
	snap := protocol.StateSnapshot{
		Stats:       s.stats(),
		Leaderboard: protocol.Entries(s.board.Ranked()),
	}

	switch s.room.Phase {
	case domain.PhaseCountdown:
		snap.TimeLeftMs = s.countdownTimeLeft().Milliseconds()
	case domain.PhaseQuestion:
		snap.Question = s.questionEvent()
		if !s.revealed {
			snap.TimeLeftMs = s.timeLeft().Milliseconds()
		}
		_, snap.Answered = s.answers[userID]
	}

	for _, k := range s.payoutKeys {
		snap.Payouts = append(snap.Payouts, s.payoutState[k])
	}

	return snap
}

func (s *session) questionEvent() *protocol.QuestionStart {
	q := s.quiz.Questions[s.question]
	ev := &protocol.QuestionStart{
		Index:       s.question,
		Total:       len(s.quiz.Questions),
		QuestionID:  q.QuestionID,
		Text:        q.Text,
		TimeLimitMs: q.TimeLimit.Milliseconds(),
		Options:     make([]protocol.OptionInfo, 0, len(q.Options)),
	}
	for _, o := range q.Options {
		ev.Options = append(ev.Options, protocol.OptionInfo{OptionID: o.OptionID, Text: o.Text})
	}
	return ev
}

func (s *session) timeLeft() time.Duration {
	limit := s.quiz.Questions[s.question].TimeLimit
	return max(limit-s.now().Sub(s.questionStart), 0)
}

// countdownTimeLeft counts the remaining ticks minus the part of the current tick that has already passed.
func (s *session) countdownTimeLeft() time.Duration {
	left := time.Duration(s.countdownLeft)*s.settings.tickInterval - s.now().Sub(s.lastTick)
	return max(left, 0)
}

func (s *session) stats() protocol.RoomStats {
	st := protocol.RoomStats{
		RoomID:           s.room.RoomID,
		Phase:            string(s.room.Phase),
		SessionNumber:    s.room.SessionNumber,
		ParticipantCount: s.room.CurrentParticipantCount,
		ReadyCount:       s.readyCount(),
		MinParticipants:  s.room.MinParticipants,
		MaxParticipants:  s.room.MaxParticipants,
		Deactivated:      s.room.Deactivated,
		Participants:     make([]protocol.ParticipantInfo, 0, len(s.order)),
	}
	for _, u := range s.order {
		p := s.parts[u]
		st.Participants = append(st.Participants, protocol.ParticipantInfo{
			UserID:   p.UserID,
			IsAdmin:  p.IsAdmin,
			IsReady:  p.IsReady,
			JoinedAt: p.JoinTime.UnixMilli(),
		})
	}
	return st
}

func (s *session) broadcastStats() {
	st := s.stats()
	s.bc.Broadcast(s.room.RoomID, &st)
}

func (s *session) readyCount() int {
	n := 0
	for _, p := range s.parts {
		if p.IsReady {
			n++
		}
	}
	return n
}

func (s *session) setPhase(p domain.Phase) {
	s.room.Phase = p
	metrics.Transitions.WithLabelValues(string(p)).Inc()
	s.touch()
	s.broadcastStats()
}

// touch bumps the room version and schedules the new state for persistence.
func (s *session) touch() {
	s.room.Version++
	s.publish(domain.EventRoomUpdated{Room: s.room})
}

func (s *session) sessionKey() string {
	return SessionKey(s.room)
}

func (s *session) startTicker() {
	s.stopTicker()
	s.ticker = time.NewTicker(s.settings.tickInterval)
}

func (s *session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *session) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *session) setDeadline(d time.Duration, kind deadlineKind) {
	s.stopDeadline()
	s.deadline = time.NewTimer(d)
	s.kind = kind
}

func (s *session) stopDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
	s.kind = deadlineNone
}

func (s *session) deadlineC() <-chan time.Time {
	if s.deadline == nil {
		return nil
	}
	return s.deadline.C
}

func hasOption(q domain.Question, optionID string) bool {
	for _, o := range q.Options {
		if o.OptionID == optionID {
			return true
		}
	}
	return false
}
