package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sam-thetutor/wahala/internal/domain"
	"github.com/sam-thetutor/wahala/internal/errors"
)

// Postgres is a Store backed by PostgreSQL. Records are kept as JSONB documents keyed by id; the tables are
// expected to exist:
//
//	quizzes(quiz_id text primary key, body jsonb)
//	rooms(room_id text primary key, version bigint, body jsonb)
//	participants(room_id text, user_id text, join_time timestamptz, body jsonb, primary key (room_id, user_id))
//	leaderboards(room_id text primary key, body jsonb)
//	settlement_plans(session_key text primary key, plan_id text, body jsonb)
//	payout_records(record_id text primary key, plan_id text, rank int, attempt int, body jsonb)
//	counters(key text primary key, value bigint)
type Postgres struct {
	db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) SaveQuiz(ctx context.Context, q domain.QuizDefinition) error {
	const stmt = `
INSERT INTO quizzes (quiz_id, body) VALUES ($1, $2)
ON CONFLICT (quiz_id) DO UPDATE SET body = EXCLUDED.body;`

	return s.exec(ctx, "save quiz", stmt, q.QuizID, q)
}

func (s *Postgres) GetQuiz(ctx context.Context, quizID string) (*domain.QuizDefinition, error) {
	const stmt = `SELECT body FROM quizzes WHERE quiz_id = $1;`

	var q domain.QuizDefinition
	if err := s.get(ctx, stmt, quizID, &q); err != nil {
		return nil, notFound(err, "quiz not found: %s", quizID)
	}
	return &q, nil
}

func (s *Postgres) SaveRoom(ctx context.Context, r domain.Room) error {
	const stmt = `
INSERT INTO rooms (room_id, version, body) VALUES ($1, $2, $3)
ON CONFLICT (room_id) DO UPDATE SET version = EXCLUDED.version, body = EXCLUDED.body
WHERE rooms.version < EXCLUDED.version;`

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, r.RoomID, r.Version, b); err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

func (s *Postgres) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	const stmt = `SELECT body FROM rooms WHERE room_id = $1;`

	var r domain.Room
	if err := s.get(ctx, stmt, roomID, &r); err != nil {
		return nil, notFound(err, "room not found: %s", roomID)
	}
	return &r, nil
}

func (s *Postgres) SaveParticipant(ctx context.Context, p domain.Participant) error {
	const stmt = `
INSERT INTO participants (room_id, user_id, join_time, body) VALUES ($1, $2, $3, $4)
ON CONFLICT (room_id, user_id) DO UPDATE SET body = EXCLUDED.body;`

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, p.RoomID, p.UserID, p.JoinTime, b); err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

func (s *Postgres) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	const stmt = `DELETE FROM participants WHERE room_id = $1 AND user_id = $2;`

	if _, err := s.db.Exec(ctx, stmt, roomID, userID); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Postgres) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	const stmt = `SELECT body FROM participants WHERE room_id = $1 ORDER BY join_time;`

	return list[domain.Participant](ctx, s.db, stmt, roomID)
}

func (s *Postgres) SaveLeaderboard(ctx context.Context, l domain.Leaderboard) error {
	const stmt = `
INSERT INTO leaderboards (room_id, body) VALUES ($1, $2)
ON CONFLICT (room_id) DO UPDATE SET body = EXCLUDED.body;`

	return s.exec(ctx, "save leaderboard", stmt, l.RoomID, l)
}

func (s *Postgres) GetLeaderboard(ctx context.Context, roomID string) (*domain.Leaderboard, error) {
	const stmt = `SELECT body FROM leaderboards WHERE room_id = $1;`

	var l domain.Leaderboard
	if err := s.get(ctx, stmt, roomID, &l); err != nil {
		return nil, notFound(err, "leaderboard not found: room=%s", roomID)
	}
	return &l, nil
}

func (s *Postgres) SavePlan(ctx context.Context, p domain.SettlementPlan) error {
	const stmt = `
WITH inserted AS (
	INSERT INTO settlement_plans (session_key, plan_id, body) VALUES ($1, $2, $3)
	ON CONFLICT (session_key) DO NOTHING
	RETURNING plan_id
)
SELECT plan_id FROM inserted
UNION ALL
SELECT plan_id FROM settlement_plans WHERE session_key = $1
LIMIT 1;`

	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	var stored string
	if err := s.db.QueryRow(ctx, stmt, p.SessionKey, p.PlanID, b).Scan(&stored); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	if stored != p.PlanID {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("a different plan %s is already stored for session %s", stored, p.SessionKey))
	}
	return nil
}

func (s *Postgres) GetPlan(ctx context.Context, sessionKey string) (*domain.SettlementPlan, error) {
	const stmt = `SELECT body FROM settlement_plans WHERE session_key = $1;`

	var p domain.SettlementPlan
	if err := s.get(ctx, stmt, sessionKey, &p); err != nil {
		return nil, notFound(err, "plan not found: session=%s", sessionKey)
	}
	return &p, nil
}

func (s *Postgres) SavePayoutRecord(ctx context.Context, r domain.PayoutRecord) error {
	const stmt = `
INSERT INTO payout_records (record_id, plan_id, rank, attempt, body) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (record_id) DO UPDATE SET body = EXCLUDED.body;`

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal payout record: %w", err)
	}
	if _, err := s.db.Exec(ctx, stmt, r.RecordID, r.PlanID, r.Rank, r.Attempt, b); err != nil {
		return fmt.Errorf("save payout record: %w", err)
	}
	return nil
}

func (s *Postgres) ListPayoutRecords(ctx context.Context, planID string) ([]domain.PayoutRecord, error) {
	const stmt = `SELECT body FROM payout_records WHERE plan_id = $1 ORDER BY rank, attempt;`

	return list[domain.PayoutRecord](ctx, s.db, stmt, planID)
}

func (s *Postgres) Increment(ctx context.Context, key string) (int64, error) {
	const stmt = `
INSERT INTO counters (key, value) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET value = counters.value + 1
RETURNING value;`

	var v int64
	if err := s.db.QueryRow(ctx, stmt, key).Scan(&v); err != nil {
		return 0, fmt.Errorf("increment %s: %w", key, err)
	}
	return v, nil
}

func (s *Postgres) exec(ctx context.Context, op, stmt, id string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	if _, err := s.db.Exec(ctx, stmt, id, b); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) get(ctx context.Context, stmt, id string, dst any) error {
	var b []byte
	if err := s.db.QueryRow(ctx, stmt, id).Scan(&b); err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

func list[T any](ctx context.Context, db *pgxpool.Pool, stmt string, args ...any) ([]T, error) {
	rows, err := db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (T, error) {
		var (
			v T
			b []byte
		)
		if err := r.Scan(&b); err != nil {
			return v, err
		}
		return v, json.Unmarshal(b, &v)
	})
}

func notFound(err error, format string, args ...any) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound(format, args...)
	}
	return err
}
