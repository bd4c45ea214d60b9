package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// ParticipantStore keeps one row per normalized email with the attempt
// sequence as jsonb. Admission is a single INSERT .. ON CONFLICT DO UPDATE
// whose WHERE clause re-evaluates the quota condition, so the check and the
// increment can never interleave between two requests.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

const recordAttemptSQL = `
INSERT INTO participants (email, name, joined_on, daily_attempts, last_attempt_date, attempts)
VALUES ($1, $2, $3, 1, $3, jsonb_build_array($4::jsonb))
ON CONFLICT (email) DO UPDATE SET
  name = EXCLUDED.name,
  daily_attempts = CASE
    WHEN participants.last_attempt_date >= $5 AND participants.last_attempt_date < $6
    THEN participants.daily_attempts + 1 ELSE 1 END,
  last_attempt_date = $3,
  attempts = participants.attempts ||
    jsonb_set($4::jsonb, '{attemptNumber}', to_jsonb(jsonb_array_length(participants.attempts) + 1)),
  updated_at = now()
WHERE CASE
    WHEN participants.last_attempt_date >= $5 AND participants.last_attempt_date < $6
    THEN participants.daily_attempts ELSE 0 END < $7
RETURNING daily_attempts, jsonb_array_length(attempts), (xmax = 0)`

const recordAttemptPerPartSQL = `
INSERT INTO participants (email, name, joined_on, daily_attempts, last_attempt_date, attempts)
VALUES ($1, $2, $3, 1, $3, jsonb_build_array($4::jsonb))
ON CONFLICT (email) DO UPDATE SET
  name = EXCLUDED.name,
  daily_attempts = CASE
    WHEN participants.last_attempt_date >= $5 AND participants.last_attempt_date < $6
    THEN participants.daily_attempts + 1 ELSE 1 END,
  last_attempt_date = $3,
  attempts = participants.attempts ||
    jsonb_set($4::jsonb, '{attemptNumber}', to_jsonb(jsonb_array_length(participants.attempts) + 1)),
  updated_at = now()
WHERE (
    SELECT count(*) FROM jsonb_array_elements(participants.attempts) AS a
    WHERE (a->>'timestamp')::timestamptz >= $5
      AND (a->>'timestamp')::timestamptz < $6
      AND coalesce(a->>'quizPart', '') = $8
  ) < $7
RETURNING (
    SELECT count(*) FROM jsonb_array_elements(attempts) AS a
    WHERE (a->>'timestamp')::timestamptz >= $5
      AND (a->>'timestamp')::timestamptz < $6
      AND coalesce(a->>'quizPart', '') = $8
  ), jsonb_array_length(attempts), (xmax = 0)`

func (s *ParticipantStore) RecordAttempt(ctx context.Context, in app.AttemptInsert) (app.AttemptOutcome, error) {
	event, err := json.Marshal(domain.Attempt{
		AttemptNumber: 1, // overwritten server-side on the update path
		Timestamp:     in.Now,
		QuizName:      in.QuizName,
		QuizPart:      in.QuizPart,
	})
	if err != nil {
		return app.AttemptOutcome{}, err
	}

	var (
		row      pgx.Row
		current  int64
		attempts int
		inserted bool
	)
	if in.QuizPart != "" {
		row = s.pool.QueryRow(ctx, recordAttemptPerPartSQL,
			in.Email, in.Name, in.Now, string(event), in.DayStart, in.DayEnd, in.Cap, in.QuizPart)
	} else {
		row = s.pool.QueryRow(ctx, recordAttemptSQL,
			in.Email, in.Name, in.Now, string(event), in.DayStart, in.DayEnd, in.Cap)
	}
	err = row.Scan(&current, &attempts, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// Quota condition failed; report the count that caused it.
		used, cerr := s.countToday(ctx, in)
		if cerr != nil {
			return app.AttemptOutcome{}, cerr
		}
		return app.AttemptOutcome{CurrentAttempts: used}, nil
	}
	if err != nil {
		return app.AttemptOutcome{}, storeErr(err)
	}
	return app.AttemptOutcome{
		Admitted:        true,
		Created:         inserted,
		AttemptNumber:   attempts,
		CurrentAttempts: int(current),
	}, nil
}

// countToday is the read-only follow-up after a rejection. Admission was
// already decided atomically; this only fills in the response counters.
func (s *ParticipantStore) countToday(ctx context.Context, in app.AttemptInsert) (int, error) {
	rec, err := s.FindByEmail(ctx, in.Email)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return domain.AttemptsToday(rec, in.DayStart, in.DayEnd, in.QuizPart), nil
}

const recordScoreSQL = `
UPDATE participants SET
  score = $2,
  total = $3,
  quiz_name = CASE WHEN $4 <> '' THEN $4 ELSE quiz_name END,
  time_taken = $5,
  attempts = jsonb_set(attempts, ARRAY[(jsonb_array_length(attempts) - 1)::text],
    (attempts -> (jsonb_array_length(attempts) - 1)) || $6::jsonb),
  updated_at = now()
WHERE email = $1 AND jsonb_array_length(attempts) > 0
RETURNING name, email, score, total, coalesce(quiz_name, ''), coalesce(time_taken, 0),
  joined_on, daily_attempts, last_attempt_date, attempts`

func (s *ParticipantStore) RecordScore(ctx context.Context, in app.ScoreUpdate) (domain.Participant, error) {
	patch := map[string]any{
		"score":     in.Score,
		"total":     in.Total,
		"timeTaken": in.TimeTaken,
	}
	if in.QuizName != "" {
		patch["quizName"] = in.QuizName
	}
	if in.QuizPart != "" {
		patch["quizPart"] = in.QuizPart
	}
	if len(in.RoundTimings) > 0 {
		patch["roundTimings"] = in.RoundTimings
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return domain.Participant{}, err
	}

	row := s.pool.QueryRow(ctx, recordScoreSQL, in.Email, in.Score, in.Total, in.QuizName, in.TimeTaken, string(patchJSON))
	rec, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, storeErr(err)
	}
	return rec, nil
}

const selectParticipantSQL = `
SELECT name, email, score, total, coalesce(quiz_name, ''), coalesce(time_taken, 0),
  joined_on, daily_attempts, last_attempt_date, attempts
FROM participants`

func (s *ParticipantStore) FindByEmail(ctx context.Context, email string) (domain.Participant, error) {
	row := s.pool.QueryRow(ctx, selectParticipantSQL+` WHERE email = $1`, email)
	rec, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, storeErr(err)
	}
	return rec, nil
}

func (s *ParticipantStore) List(ctx context.Context) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, selectParticipantSQL+` ORDER BY joined_on DESC`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		rec, err := scanParticipant(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		rec      domain.Participant
		last     *time.Time
		attempts []byte
	)
	err := row.Scan(&rec.Name, &rec.Email, &rec.Score, &rec.Total, &rec.QuizName,
		&rec.TimeTaken, &rec.JoinedOn, &rec.DailyAttempts, &last, &attempts)
	if err != nil {
		return domain.Participant{}, err
	}
	if last != nil {
		rec.LastAttemptDate = *last
	}
	if err := json.Unmarshal(attempts, &rec.Attempts); err != nil {
		return domain.Participant{}, fmt.Errorf("decode attempts: %w", err)
	}
	return rec, nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
