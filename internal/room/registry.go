// Package room runs live quiz rooms. Each room is owned by a single actor goroutine; the Registry routes
// commands to it and waits for the reply.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/event"
	"github.com/sam-thetutor/wahala/internal/metrics"
	"github.com/sam-thetutor/wahala/internal/protocol"
	"github.com/sam-thetutor/wahala/internal/settlement"
	"github.com/sam-thetutor/wahala/internal/store"
)

const (
	defaultMinParticipants  = 1
	defaultMaxParticipants  = 100
	defaultCountdownSeconds = 5
	defaultTickInterval     = time.Second
	defaultRevealDelay      = 3 * time.Second
	defaultRetention        = 10 * time.Minute
)

// Broadcaster fans a room event out to every client connected to the room. Calls must not block and must
// deliver events to each client in call order.
type Broadcaster interface {
	Broadcast(roomID string, e protocol.Event)
}

// Dispatcher executes a settlement plan, reporting each payout record as it changes.
type Dispatcher interface {
	Dispatch(ctx context.Context, plan domain.SettlementPlan, onUpdate func(domain.PayoutRecord)) (domain.PayoutSummary, error)
}

type Config struct {
	Store       store.Store
	EventBus    *event.Bus
	Broadcaster Broadcaster
	Payouts     Dispatcher

	MinParticipants  int
	MaxParticipants  int
	CountdownSeconds int
	TickInterval     time.Duration
	// RevealDelay is the pause between an answer reveal and the next question. Negative means none.
	RevealDelay time.Duration
	Retention   time.Duration
}

type Registry struct {
	store store.Store
	eb    *event.Bus
	bc    Broadcaster
	pd    Dispatcher

	minParticipants  int
	maxParticipants  int
	countdownSeconds int
	settings         settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	rooms map[string]*session
}

func NewRegistry(c Config) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		store:            c.Store,
		eb:               c.EventBus,
		bc:               c.Broadcaster,
		pd:               c.Payouts,
		minParticipants:  orDefault(c.MinParticipants, defaultMinParticipants),
		maxParticipants:  orDefault(c.MaxParticipants, defaultMaxParticipants),
		countdownSeconds: orDefault(c.CountdownSeconds, defaultCountdownSeconds),
		settings: settings{
			tickInterval: orDefault(c.TickInterval, defaultTickInterval),
			revealDelay:  revealDelay(c.RevealDelay),
			retention:    orDefault(c.Retention, defaultRetention),
		},
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*session),
	}
	if r.bc == nil {
		r.bc = nopBroadcaster{}
	}

	return r
}

// CreateRoomRequest describes a new session of a quiz definition. Zero values fall back to the registry defaults.
type CreateRoomRequest struct {
	QuizID  string
	AdminID string

	MinParticipants  int
	MaxParticipants  int
	CountdownSeconds *int

	ScheduledStartTime *time.Time
}

// CreateRoom starts a new session of a quiz definition. Sessions of the same quiz are numbered from 1.
func (r *Registry) CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.Room, error) {
	quiz, err := r.store.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	rm := domain.Room{
		QuizID:           quiz.QuizID,
		AdminID:          req.AdminID,
		MinParticipants:  orDefault(req.MinParticipants, r.minParticipants),
		MaxParticipants:  orDefault(req.MaxParticipants, r.maxParticipants),
		Phase:            domain.PhaseWaiting,
		CountdownSeconds: r.countdownSeconds,
		CreateTime:       time.Now(),
		Version:          1,
	}
	if req.CountdownSeconds != nil {
		rm.CountdownSeconds = *req.CountdownSeconds
	}
	if req.ScheduledStartTime != nil {
		t := *req.ScheduledStartTime
		rm.ScheduledStartTime = &t
	}

	if rm.MinParticipants < 1 || rm.MaxParticipants < rm.MinParticipants {
		return nil, errors.Validation("invalid capacity: min=%d max=%d", rm.MinParticipants, rm.MaxParticipants)
	}
	if rm.CountdownSeconds < 0 {
		return nil, errors.Validation("countdown must not be negative, got %d", rm.CountdownSeconds)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(err)
	}
	rm.RoomID = id.String()

	rm.SessionNumber, err = r.store.Increment(ctx, "quiz:"+quiz.QuizID+":sessions")
	if err != nil {
		return nil, err
	}

	if err := r.store.SaveRoom(ctx, rm); err != nil {
		return nil, err
	}

	s := newSession(*quiz, rm, r.settings, r.bc, r.eb, r.pd)

	r.mu.Lock()
	r.rooms[rm.RoomID] = s
	r.mu.Unlock()

	metrics.ActiveRooms.Inc()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.remove(rm.RoomID)
		s.run(r.ctx)
	}()

	slog.InfoContext(ctx, "room: created", "room", rm.RoomID, "quiz", quiz.QuizID, "session", rm.SessionNumber)

	return &rm, nil
}

func (r *Registry) remove(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	metrics.ActiveRooms.Dec()
}

// lookup returns the live actor of a room. Rooms that already retired are reported as not active.
func (r *Registry) lookup(ctx context.Context, roomID string) (*session, error) {
	r.mu.RLock()
	s, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	if _, err := r.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	return nil, errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", roomID)
}

// Execute sends a client command to its room and waits for the actor's reply.
func (r *Registry) Execute(ctx context.Context, roomID, userID string, cmd protocol.Command) (any, error) {
	s, err := r.lookup(ctx, roomID)
	if err != nil {
		return nil, err
	}

	req := &request{
		userID: userID,
		at:     time.Now(),
		cmd:    cmd,
		reply:  make(chan result, 1),
	}
	if err := send(ctx, s, req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-s.done:
		return nil, errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", roomID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func send(ctx context.Context, s *session, m message) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", s.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) Join(ctx context.Context, roomID, userID string) (*domain.Participant, error) {
	v, err := r.Execute(ctx, roomID, userID, &protocol.JoinRoom{UserID: userID})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Participant), nil
}

func (r *Registry) Leave(ctx context.Context, roomID, userID string) error {
	_, err := r.Execute(ctx, roomID, userID, &protocol.LeaveRoom{})
	return err
}

func (r *Registry) SetReady(ctx context.Context, roomID, userID string, ready bool) (*domain.Participant, error) {
	v, err := r.Execute(ctx, roomID, userID, &protocol.SetReady{Ready: ready})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Participant), nil
}

// StartCountdown moves a waiting room into its countdown. Only an admin may do so, and only once enough
// participants have joined.
func (r *Registry) StartCountdown(ctx context.Context, roomID, adminID string) (*domain.Room, error) {
	v, err := r.Execute(ctx, roomID, adminID, &protocol.StartCountdown{})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Room), nil
}

// StartImmediately skips the countdown, or cancels a running one, and opens the first question.
func (r *Registry) StartImmediately(ctx context.Context, roomID, adminID string) (*domain.Room, error) {
	v, err := r.Execute(ctx, roomID, adminID, &protocol.StartImmediately{})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Room), nil
}

// Deactivate closes a waiting room for good. Joins and starts fail with ROOM_NOT_ACTIVE afterwards.
func (r *Registry) Deactivate(ctx context.Context, roomID, adminID string) (*domain.Room, error) {
	v, err := r.Execute(ctx, roomID, adminID, &protocol.DeactivateRoom{})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Room), nil
}

type SubmitAnswerRequest struct {
	QuestionID      string
	OptionID        string
	ClientTimestamp int64
}

func (r *Registry) SubmitAnswer(ctx context.Context, roomID, userID string, req SubmitAnswerRequest) (*protocol.AnswerAccepted, error) {
	v, err := r.Execute(ctx, roomID, userID, &protocol.SubmitAnswer{
		QuestionID:      req.QuestionID,
		OptionID:        req.OptionID,
		ClientTimestamp: req.ClientTimestamp,
	})
	if err != nil {
		return nil, err
	}
	return v.(*protocol.AnswerAccepted), nil
}

// Snapshot returns everything a (re)connecting client needs to render the room.
func (r *Registry) Snapshot(ctx context.Context, roomID, userID string) (*protocol.StateSnapshot, error) {
	s, err := r.lookup(ctx, roomID)
	if err != nil {
		return nil, err
	}

	req := &snapshotRequest{userID: userID, reply: make(chan protocol.StateSnapshot, 1)}
	if err := send(ctx, s, req); err != nil {
		return nil, err
	}

	select {
	case snap := <-req.reply:
		return &snap, nil
	case <-s.done:
		return nil, errors.Precondition(errors.ReasonRoomNotActive, "room %s is not active", roomID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Room returns the current room record, read from the actor while it runs and from the store afterwards.
func (r *Registry) Room(ctx context.Context, roomID string) (*domain.Room, error) {
	r.mu.RLock()
	s, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return r.store.GetRoom(ctx, roomID)
	}

	req := &roomRequest{reply: make(chan domain.Room, 1)}
	if err := send(ctx, s, req); err != nil {
		return r.store.GetRoom(ctx, roomID)
	}

	select {
	case rm := <-req.reply:
		return &rm, nil
	case <-s.done:
		return r.store.GetRoom(ctx, roomID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SessionKey identifies one run of a quiz definition. Settlement plans are stored under it.
func SessionKey(rm domain.Room) string {
	return fmt.Sprintf("%s/%d", rm.QuizID, rm.SessionNumber)
}

// Payouts returns the latest payout record of every plan entry of a finished room, ordered by rank.
func (r *Registry) Payouts(ctx context.Context, roomID string) ([]domain.PayoutRecord, error) {
	rm, err := r.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	plan, err := r.store.GetPlan(ctx, SessionKey(*rm))
	if err != nil {
		return nil, err
	}

	history, err := r.store.ListPayoutRecords(ctx, plan.PlanID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]domain.PayoutRecord, len(plan.Entries))
	for _, h := range history {
		k := settlement.EntryKey(h.PlanID, domain.PlanEntry{Recipient: h.Recipient, Rank: h.Rank})
		if prev, ok := latest[k]; !ok || h.Attempt > prev.Attempt {
			latest[k] = h
		}
	}

	out := make([]domain.PayoutRecord, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		if rec, ok := latest[settlement.EntryKey(plan.PlanID, e)]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, domain.PayoutRecord{
			PlanID:    plan.PlanID,
			Rank:      e.Rank,
			Recipient: e.Recipient,
			Amount:    e.Amount,
			Token:     plan.Token,
			Status:    domain.PayoutPending,
		})
	}

	return out, nil
}

// AutoStart asks every live room to start if its scheduled start time has passed and enough participants
// joined. It returns the number of rooms that started, and ctx's error when the sweep ran out of time before
// every room was asked.
func (r *Registry) AutoStart(ctx context.Context, now time.Time) (int, error) {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.rooms))
	for _, s := range r.rooms {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	started := 0
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return started, err
		}

		req := &autoStartRequest{now: now, reply: make(chan bool, 1)}
		if err := send(ctx, s, req); err != nil {
			continue
		}

		select {
		case ok := <-req.reply:
			if ok {
				started++
			}
		case <-s.done:
		case <-ctx.Done():
			return started, ctx.Err()
		}
	}

	return started, nil
}

// Stop terminates every room actor and waits for them to exit.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, protocol.Event) {}

// revealDelay treats zero as unset and a negative delay as no pause at all.
func revealDelay(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return defaultRevealDelay
	case d < 0:
		return 0
	default:
		return d
	}
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
