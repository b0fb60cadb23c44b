package room_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
	"github.com/sam-thetutor/wahala/internal/ledger"
	"github.com/sam-thetutor/wahala/internal/payout"
	"github.com/sam-thetutor/wahala/internal/protocol"
	"github.com/sam-thetutor/wahala/internal/room"
	"github.com/sam-thetutor/wahala/internal/store"
)

type broadcasts struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (b *broadcasts) Broadcast(_ string, e protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *broadcasts) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType())
	}
	return out
}

func (b *broadcasts) count(typ string) int {
	n := 0
	for _, t := range b.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func (b *broadcasts) last(typ string) protocol.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].EventType() == typ {
			return b.events[i]
		}
	}
	return nil
}

func (b *broadcasts) waitFor(t *testing.T, typ string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.count(typ) >= n }, 3*time.Second, 5*time.Millisecond,
		"waiting for %d %s event(s), got %v", n, typ, b.types())
}

func testQuiz(id string) domain.QuizDefinition {
	return domain.QuizDefinition{
		QuizID:                id,
		Title:                 "Naija trivia",
		CreatorID:             "creator",
		BasePointsPerQuestion: 1000,
		SpeedBonusEnabled:     true,
		MaxSpeedBonus:         200,
		Questions: []domain.Question{
			{
				QuestionID: "q1",
				Text:       "Capital of Nigeria?",
				TimeLimit:  5 * time.Second,
				Options: []domain.Option{
					{OptionID: "a", Text: "Lagos"},
					{OptionID: "b", Text: "Abuja", IsCorrect: true},
				},
			},
			{
				QuestionID: "q2",
				Text:       "Largest city?",
				TimeLimit:  5 * time.Second,
				Options: []domain.Option{
					{OptionID: "a", Text: "Lagos", IsCorrect: true},
					{OptionID: "b", Text: "Kano"},
				},
			},
		},
	}
}

type fixture struct {
	store    *store.Memory
	bc       *broadcasts
	ledger   *ledger.Simulated
	registry *room.Registry
}

func newFixture(t *testing.T, quiz domain.QuizDefinition, opts ...func(*room.Config)) fixture {
	t.Helper()

	f := fixture{
		store:  store.NewMemory(),
		bc:     &broadcasts{},
		ledger: ledger.NewSimulated(0),
	}
	require.NoError(t, f.store.SaveQuiz(context.Background(), quiz))
	f.ledger.Fund(ledger.Treasury, "cUSD", decimal.NewFromInt(1000))

	c := room.Config{
		Store:       f.store,
		Broadcaster: f.bc,
		Payouts: payout.NewDispatcher(payout.Config{
			Store:      f.store,
			Ledger:     f.ledger,
			RetryDelay: time.Millisecond,
		}),
		TickInterval: 10 * time.Millisecond,
		RevealDelay:  -1,
	}
	for _, opt := range opts {
		opt(&c)
	}

	f.registry = room.NewRegistry(c)
	t.Cleanup(f.registry.Stop)

	return f
}

func (f fixture) createRoom(t *testing.T, req room.CreateRoomRequest) *domain.Room {
	t.Helper()

	if req.CountdownSeconds == nil {
		zero := 0
		req.CountdownSeconds = &zero
	}
	rm, err := f.registry.CreateRoom(context.Background(), req)
	require.NoError(t, err)
	return rm
}

func TestRegistry_CreateRoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testQuiz("quiz"))
	ctx := context.Background()

	first := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host"})
	second := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host"})

	assert.Equal(t, int64(1), first.SessionNumber)
	assert.Equal(t, int64(2), second.SessionNumber)
	assert.True(t, first.IsWaiting())
	assert.NotEqual(t, first.RoomID, second.RoomID)

	_, err := f.registry.CreateRoom(ctx, room.CreateRoomRequest{QuizID: "missing"})
	assert.ErrorIs(t, err, errors.New(errors.CodeNotFound))

	_, err = f.registry.CreateRoom(ctx, room.CreateRoomRequest{QuizID: "quiz", MinParticipants: 5, MaxParticipants: 2})
	assert.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument))
}

func TestRegistry_Join(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := map[string]struct {
		quiz   domain.QuizDefinition
		req    room.CreateRoomRequest
		assert func(t *testing.T, f fixture, roomID string)
	}{
		"joining twice returns the same participant": {
			assert: func(t *testing.T, f fixture, roomID string) {
				p1, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				p2, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)

				assert.Equal(t, p1.ParticipantID, p2.ParticipantID)

				rm, err := f.registry.Room(ctx, roomID)
				require.NoError(t, err)
				assert.Equal(t, 1, rm.CurrentParticipantCount)
			},
		},
		"full room rejects new identities": {
			req: room.CreateRoomRequest{MaxParticipants: 2},
			assert: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				_, err = f.registry.Join(ctx, roomID, "bob")
				require.NoError(t, err)

				_, err = f.registry.Join(ctx, roomID, "carol")
				assert.True(t, errors.HasReason(err, errors.ReasonRoomFull), err)

				_, err = f.registry.Join(ctx, roomID, "alice")
				assert.NoError(t, err, "existing participants may rejoin a full room")

				rm, err := f.registry.Room(ctx, roomID)
				require.NoError(t, err)
				assert.Equal(t, 2, rm.CurrentParticipantCount)
			},
		},
		"creator and assigned admin are admins": {
			req: room.CreateRoomRequest{AdminID: "host"},
			assert: func(t *testing.T, f fixture, roomID string) {
				alice, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				host, err := f.registry.Join(ctx, roomID, "host")
				require.NoError(t, err)
				creator, err := f.registry.Join(ctx, roomID, "creator")
				require.NoError(t, err)

				assert.False(t, alice.IsAdmin)
				assert.True(t, host.IsAdmin)
				assert.True(t, creator.IsAdmin)

				again, err := f.registry.Join(ctx, roomID, "host")
				require.NoError(t, err)
				assert.True(t, again.IsAdmin, "rejoining never downgrades admin")
			},
		},
		"first joiner of a featured quiz administers the room": {
			quiz: func() domain.QuizDefinition {
				q := testQuiz("quiz")
				q.Featured = true
				return q
			}(),
			assert: func(t *testing.T, f fixture, roomID string) {
				alice, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				bob, err := f.registry.Join(ctx, roomID, "bob")
				require.NoError(t, err)

				assert.True(t, alice.IsAdmin)
				assert.False(t, bob.IsAdmin)

				rm, err := f.registry.Room(ctx, roomID)
				require.NoError(t, err)
				assert.Equal(t, "alice", rm.AdminID)
			},
		},
		"join and leave broadcast room stats": {
			assert: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				require.NoError(t, f.registry.Leave(ctx, roomID, "alice"))

				assert.Equal(t, []string{
					protocol.TypeParticipantJoined, protocol.TypeRoomStats,
					protocol.TypeParticipantLeft, protocol.TypeRoomStats,
					protocol.TypeRoomEmpty,
				}, f.bc.types())

				stats := f.bc.last(protocol.TypeRoomStats).(*protocol.RoomStats)
				assert.Equal(t, 0, stats.ParticipantCount)
				assert.Empty(t, stats.Participants)
			},
		},
		"deactivated room rejects joins and starts": {
			req: room.CreateRoomRequest{AdminID: "host"},
			assert: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)

				_, err = f.registry.Deactivate(ctx, roomID, "alice")
				assert.True(t, errors.HasReason(err, errors.ReasonNotAdmin), err)

				rm, err := f.registry.Deactivate(ctx, roomID, "host")
				require.NoError(t, err)
				assert.True(t, rm.Deactivated)

				stats := f.bc.last(protocol.TypeRoomStats).(*protocol.RoomStats)
				assert.True(t, stats.Deactivated)

				_, err = f.registry.Join(ctx, roomID, "carol")
				assert.True(t, errors.HasReason(err, errors.ReasonRoomNotActive), err)
				_, err = f.registry.Join(ctx, roomID, "alice")
				assert.True(t, errors.HasReason(err, errors.ReasonRoomNotActive), err)
				_, err = f.registry.StartCountdown(ctx, roomID, "host")
				assert.True(t, errors.HasReason(err, errors.ReasonRoomNotActive), err)

				again, err := f.registry.Deactivate(ctx, roomID, "host")
				require.NoError(t, err)
				assert.Equal(t, rm.Version, again.Version)
			},
		},
		"started room cannot be deactivated": {
			req: room.CreateRoomRequest{AdminID: "host"},
			assert: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				_, err = f.registry.StartImmediately(ctx, roomID, "host")
				require.NoError(t, err)

				_, err = f.registry.Deactivate(ctx, roomID, "host")
				assert.True(t, errors.HasReason(err, errors.ReasonInvalidTransition), err)
			},
		},
		"leaving twice is rejected": {
			assert: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "alice")
				require.NoError(t, err)
				require.NoError(t, f.registry.Leave(ctx, roomID, "alice"))

				err = f.registry.Leave(ctx, roomID, "alice")
				assert.True(t, errors.HasReason(err, errors.ReasonNotParticipant), err)
			},
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			quiz := tc.quiz
			if quiz.QuizID == "" {
				quiz = testQuiz("quiz")
			}
			f := newFixture(t, quiz)

			tc.req.QuizID = quiz.QuizID
			rm := f.createRoom(t, tc.req)
			tc.assert(t, f, rm.RoomID)
		})
	}
}

func TestRegistry_SetReady(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, testQuiz("quiz"))
	rm := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz"})

	_, err := f.registry.SetReady(ctx, rm.RoomID, "alice", true)
	assert.True(t, errors.HasReason(err, errors.ReasonNotParticipant), err)

	_, err = f.registry.Join(ctx, rm.RoomID, "alice")
	require.NoError(t, err)

	p, err := f.registry.SetReady(ctx, rm.RoomID, "alice", true)
	require.NoError(t, err)
	assert.True(t, p.IsReady)

	ev := f.bc.last(protocol.TypeParticipantReady).(*protocol.ParticipantReady)
	assert.Equal(t, 1, ev.ReadyCount)
}

func TestRegistry_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := map[string]struct {
		tick    time.Duration
		arrange func(t *testing.T, f fixture, roomID string)
		act     func(f fixture, roomID string) error
		assert  func(t *testing.T, f fixture, roomID string, err error)
	}{
		"too few participants keeps the room waiting": {
			arrange: func(t *testing.T, f fixture, roomID string) {
				_, err := f.registry.Join(ctx, roomID, "host")
				require.NoError(t, err)
			},
			act: func(f fixture, roomID string) error {
				_, err := f.registry.StartCountdown(ctx, roomID, "host")
				return err
			},
			assert: func(t *testing.T, f fixture, roomID string, err error) {
				assert.True(t, errors.HasReason(err, errors.ReasonNotEnoughParticipants), err)

				rm, err := f.registry.Room(ctx, roomID)
				require.NoError(t, err)
				assert.True(t, rm.IsWaiting())
			},
		},
		"only admins start the room": {
			arrange: func(t *testing.T, f fixture, roomID string) {
				for _, u := range []string{"alice", "bob"} {
					_, err := f.registry.Join(ctx, roomID, u)
					require.NoError(t, err)
				}
			},
			act: func(f fixture, roomID string) error {
				_, err := f.registry.StartCountdown(ctx, roomID, "alice")
				return err
			},
			assert: func(t *testing.T, f fixture, roomID string, err error) {
				assert.True(t, errors.HasReason(err, errors.ReasonNotAdmin), err)
				assert.ErrorIs(t, err, errors.New(errors.CodePermissionDenied))
			},
		},
		"countdown ticks down into the first question": {
			arrange: func(t *testing.T, f fixture, roomID string) {
				for _, u := range []string{"alice", "bob"} {
					_, err := f.registry.Join(ctx, roomID, u)
					require.NoError(t, err)
				}
			},
			act: func(f fixture, roomID string) error {
				_, err := f.registry.StartCountdown(ctx, roomID, "host")
				return err
			},
			assert: func(t *testing.T, f fixture, roomID string, err error) {
				require.NoError(t, err)
				f.bc.waitFor(t, protocol.TypeQuestionStart, 1)

				var ticks []int
				f.bc.mu.Lock()
				for _, e := range f.bc.events {
					if tick, ok := e.(*protocol.CountdownTick); ok {
						ticks = append(ticks, tick.TimeLeft)
					}
				}
				f.bc.mu.Unlock()
				assert.Equal(t, []int{3, 2, 1, 0}, ticks)

				rm, err := f.registry.Room(ctx, roomID)
				require.NoError(t, err)
				assert.Equal(t, domain.PhaseQuestion, rm.Phase)
				assert.NotNil(t, rm.ActualStartTime)
			},
		},
		"admin can skip a running countdown": {
			tick: time.Hour,
			arrange: func(t *testing.T, f fixture, roomID string) {
				for _, u := range []string{"alice", "bob"} {
					_, err := f.registry.Join(ctx, roomID, u)
					require.NoError(t, err)
				}
				_, err := f.registry.StartCountdown(ctx, roomID, "host")
				require.NoError(t, err)
			},
			act: func(f fixture, roomID string) error {
				_, err := f.registry.StartImmediately(ctx, roomID, "host")
				return err
			},
			assert: func(t *testing.T, f fixture, roomID string, err error) {
				require.NoError(t, err)
				assert.Equal(t, 1, f.bc.count(protocol.TypeQuestionStart))

				_, err = f.registry.StartCountdown(ctx, roomID, "host")
				assert.True(t, errors.HasReason(err, errors.ReasonInvalidTransition), err)
			},
		},
	}

	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			quiz := testQuiz("quiz")
			quiz.Questions[0].TimeLimit = time.Minute
			f := newFixture(t, quiz, func(c *room.Config) {
				if tc.tick > 0 {
					c.TickInterval = tc.tick
				}
			})

			countdown := 3
			rm := f.createRoom(t, room.CreateRoomRequest{
				QuizID:           "quiz",
				AdminID:          "host",
				MinParticipants:  2,
				CountdownSeconds: &countdown,
			})

			if tc.arrange != nil {
				tc.arrange(t, f, rm.RoomID)
			}
			tc.assert(t, f, rm.RoomID, tc.act(f, rm.RoomID))
		})
	}
}

func playQuestion(t *testing.T, f fixture, roomID, questionID string, answers map[string]string) {
	t.Helper()

	for user, option := range answers {
		_, err := f.registry.SubmitAnswer(context.Background(), roomID, user, room.SubmitAnswerRequest{
			QuestionID: questionID,
			OptionID:   option,
		})
		require.NoError(t, err)
	}
}

func TestRegistry_CountdownSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, testQuiz("quiz"), func(c *room.Config) { c.TickInterval = 300 * time.Millisecond })

	three := 3
	rm := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host", CountdownSeconds: &three})
	_, err := f.registry.Join(ctx, rm.RoomID, "alice")
	require.NoError(t, err)
	_, err = f.registry.StartCountdown(ctx, rm.RoomID, "host")
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	snap, err := f.registry.Snapshot(ctx, rm.RoomID, "alice")
	require.NoError(t, err)
	assert.Equal(t, string(domain.PhaseCountdown), snap.Stats.Phase)
	assert.LessOrEqual(t, snap.TimeLeftMs, int64(750), "time already spent in the current tick is not counted")
	assert.Positive(t, snap.TimeLeftMs)
}

func TestRegistry_QuestionCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, testQuiz("quiz"))
	rm := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host"})

	for _, u := range []string{"alice", "bob"} {
		_, err := f.registry.Join(ctx, rm.RoomID, u)
		require.NoError(t, err)
	}

	_, err := f.registry.StartCountdown(ctx, rm.RoomID, "host")
	require.NoError(t, err)
	f.bc.waitFor(t, protocol.TypeQuestionStart, 1)

	_, err = f.registry.SubmitAnswer(ctx, rm.RoomID, "alice", room.SubmitAnswerRequest{QuestionID: "q2", OptionID: "a"})
	assert.True(t, errors.HasReason(err, errors.ReasonWrongQuestion), err)

	_, err = f.registry.SubmitAnswer(ctx, rm.RoomID, "alice", room.SubmitAnswerRequest{QuestionID: "q1", OptionID: "z"})
	assert.ErrorIs(t, err, errors.New(errors.CodeInvalidArgument))

	_, err = f.registry.SubmitAnswer(ctx, rm.RoomID, "carol", room.SubmitAnswerRequest{QuestionID: "q1", OptionID: "b"})
	assert.True(t, errors.HasReason(err, errors.ReasonNotParticipant), err)

	_, err = f.registry.SubmitAnswer(ctx, rm.RoomID, "alice", room.SubmitAnswerRequest{QuestionID: "q1", OptionID: "b"})
	require.NoError(t, err)

	_, err = f.registry.SubmitAnswer(ctx, rm.RoomID, "alice", room.SubmitAnswerRequest{QuestionID: "q1", OptionID: "a"})
	assert.True(t, errors.HasReason(err, errors.ReasonAlreadyAnswered), err, "the first answer is binding")

	snap, err := f.registry.Snapshot(ctx, rm.RoomID, "alice")
	require.NoError(t, err)
	require.NotNil(t, snap.Question)
	assert.Equal(t, "q1", snap.Question.QuestionID)
	assert.True(t, snap.Answered)
	assert.Positive(t, snap.TimeLeftMs)

	playQuestion(t, f, rm.RoomID, "q1", map[string]string{"bob": "a"})
	f.bc.waitFor(t, protocol.TypeQuestionStart, 2)

	playQuestion(t, f, rm.RoomID, "q2", map[string]string{"alice": "a", "bob": "a"})
	f.bc.waitFor(t, protocol.TypeGameEnd, 1)

	var order []string
	for _, typ := range f.bc.types() {
		switch typ {
		case protocol.TypeQuestionStart, protocol.TypeAnswerReveal, protocol.TypeLeaderboardUpdate,
			protocol.TypeGameEnd, protocol.TypeRedirectToResults:
			order = append(order, typ)
		}
	}
	assert.Equal(t, []string{
		protocol.TypeQuestionStart, protocol.TypeAnswerReveal, protocol.TypeLeaderboardUpdate,
		protocol.TypeQuestionStart, protocol.TypeAnswerReveal, protocol.TypeLeaderboardUpdate,
		protocol.TypeGameEnd, protocol.TypeRedirectToResults,
	}, order)

	end := f.bc.last(protocol.TypeGameEnd).(*protocol.GameEnd)
	require.Len(t, end.Entries, 2)
	assert.Equal(t, "alice", end.Entries[0].UserID)
	assert.Equal(t, 2, end.Entries[0].CorrectCount)
	assert.Greater(t, end.Entries[0].Score, 2000)
	assert.False(t, end.RewardsEnabled)

	rmNow, err := f.registry.Room(ctx, rm.RoomID)
	require.NoError(t, err)
	assert.True(t, rmNow.IsFinished())

	_, err = f.registry.StartCountdown(ctx, rm.RoomID, "host")
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidTransition), err, "finished rooms never transition")

	_, err = f.registry.Join(ctx, rm.RoomID, "dave")
	assert.True(t, errors.HasReason(err, errors.ReasonRoomNotActive), err)
}

func TestRegistry_QuestionTimeout(t *testing.T) {
	t.Parallel()

	quiz := testQuiz("quiz")
	quiz.Questions = quiz.Questions[:1]
	quiz.Questions[0].TimeLimit = 50 * time.Millisecond

	ctx := context.Background()
	f := newFixture(t, quiz)
	rm := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host"})

	_, err := f.registry.Join(ctx, rm.RoomID, "alice")
	require.NoError(t, err)
	_, err = f.registry.StartImmediately(ctx, rm.RoomID, "host")
	require.NoError(t, err)

	f.bc.waitFor(t, protocol.TypeGameEnd, 1)

	reveal := f.bc.last(protocol.TypeAnswerReveal).(*protocol.AnswerReveal)
	assert.Equal(t, []string{"b"}, reveal.CorrectOptionIDs)
	require.Len(t, reveal.Results, 1)
	assert.False(t, reveal.Results[0].Answered)

	end := f.bc.last(protocol.TypeGameEnd).(*protocol.GameEnd)
	require.Len(t, end.Entries, 1)
	assert.Equal(t, 0, end.Entries[0].Score)
	assert.Equal(t, int64(50), end.Entries[0].TotalTimeMs, "silence is charged the full time limit")
	assert.Positive(t, f.bc.count(protocol.TypeQuestionTimeUpdate))
}

func TestRegistry_Rewards(t *testing.T) {
	t.Parallel()

	quiz := testQuiz("quiz")
	quiz.Reward = domain.RewardConfig{
		Mode:          domain.RewardLinear,
		Token:         "cUSD",
		TotalWinners:  2,
		RewardAmounts: []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(5)},
	}

	ctx := context.Background()
	f := newFixture(t, quiz)
	rm := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", AdminID: "host"})

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := f.registry.Join(ctx, rm.RoomID, u)
		require.NoError(t, err)
	}
	_, err := f.registry.StartImmediately(ctx, rm.RoomID, "host")
	require.NoError(t, err)

	playQuestion(t, f, rm.RoomID, "q1", map[string]string{"alice": "b", "bob": "b", "carol": "a"})
	f.bc.waitFor(t, protocol.TypeQuestionStart, 2)
	playQuestion(t, f, rm.RoomID, "q2", map[string]string{"alice": "a", "bob": "b", "carol": "b"})

	f.bc.waitFor(t, protocol.TypeDistributionComplete, 1)

	done := f.bc.last(protocol.TypeDistributionComplete).(*protocol.DistributionComplete)
	assert.Equal(t, 2, done.Succeeded)
	assert.Equal(t, 0, done.Failed)
	assert.Equal(t, "15", done.TotalDistributed)

	assert.True(t, decimal.NewFromInt(10).Equal(f.ledger.Balance("alice", "cUSD")))
	assert.True(t, decimal.NewFromInt(5).Equal(f.ledger.Balance("bob", "cUSD")))
	assert.True(t, f.ledger.Balance("carol", "cUSD").IsZero())

	snap, err := f.registry.Snapshot(ctx, rm.RoomID, "alice")
	require.NoError(t, err)
	require.Len(t, snap.Payouts, 2)
	for _, p := range snap.Payouts {
		assert.Equal(t, string(domain.PayoutSuccess), p.Status)
	}

	types := f.bc.types()
	assert.Less(t, indexOf(types, protocol.TypeGameEnd), indexOf(types, protocol.TypeDistributionStatus),
		"final standings precede payout statuses")

	records, err := f.registry.Payouts(ctx, rm.RoomID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].Recipient)
	assert.Equal(t, domain.PayoutSuccess, records[0].Status)
	assert.NotEmpty(t, records[0].TransferRef)
}

func TestRegistry_AutoStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, testQuiz("quiz"))

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", ScheduledStartTime: &past})
	later := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", ScheduledStartTime: &future})
	empty := f.createRoom(t, room.CreateRoomRequest{QuizID: "quiz", ScheduledStartTime: &past})

	for _, id := range []string{due.RoomID, later.RoomID} {
		_, err := f.registry.Join(ctx, id, "alice")
		require.NoError(t, err)
	}

	expired, cancel := context.WithCancel(ctx)
	cancel()
	n, err := f.registry.AutoStart(expired, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	n, err = f.registry.AutoStart(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]bool{due.RoomID: true, later.RoomID: false, empty.RoomID: false} {
		rm, err := f.registry.Room(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, rm.IsStarted() || rm.IsFinished(), id)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
