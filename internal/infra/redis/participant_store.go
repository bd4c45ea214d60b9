package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

const keyPrefix = "participant:"

// recordAttemptScript runs the whole admit-or-reject decision inside Redis,
// so the quota check and the append are one atomic server-side step.
// KEYS[1] record key. ARGV: cap, dayStart(ms), dayEnd(ms), now(ms), name,
// email, quizName, quizPart, ttl(seconds).
// Reply: {admitted, created, attemptNumber, currentAttempts}.
var recordAttemptScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local dayStart = tonumber(ARGV[2])
local dayEnd = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local name = ARGV[5]
local email = ARGV[6]
local quizName = ARGV[7]
local quizPart = ARGV[8]
local ttl = tonumber(ARGV[9])

local raw = redis.call('GET', KEYS[1])
if not raw then
  local rec = {
    name = name, email = email, joinedOn = now,
    attempts = {{ n = 1, ts = now }},
    daily = 1, last = now,
  }
  if quizName ~= '' then rec.attempts[1].quiz = quizName end
  if quizPart ~= '' then rec.attempts[1].part = quizPart end
  redis.call('SET', KEYS[1], cjson.encode(rec))
  if ttl > 0 then redis.call('EXPIRE', KEYS[1], ttl) end
  return {1, 1, 1, 1}
end

local rec = cjson.decode(raw)
local used = 0
if quizPart ~= '' then
  for _, a in ipairs(rec.attempts) do
    if a.ts >= dayStart and a.ts < dayEnd and (a.part or '') == quizPart then
      used = used + 1
    end
  end
else
  if rec.last and rec.last >= dayStart and rec.last < dayEnd then
    used = rec.daily or 0
  end
end

if used >= cap then
  return {0, 0, 0, used}
end

local attempt = { n = #rec.attempts + 1, ts = now }
if quizName ~= '' then attempt.quiz = quizName end
if quizPart ~= '' then attempt.part = quizPart end
rec.attempts[#rec.attempts + 1] = attempt

if rec.last and rec.last >= dayStart and rec.last < dayEnd then
  rec.daily = (rec.daily or 0) + 1
else
  rec.daily = 1
end
rec.last = now
rec.name = name

redis.call('SET', KEYS[1], cjson.encode(rec))
if ttl > 0 then redis.call('EXPIRE', KEYS[1], ttl) end
return {1, 0, attempt.n, used + 1}
`)

// recordScoreScript attaches score/total/timings to the latest attempt and
// the record mirrors. ARGV: score, total, quizName, quizPart, timeTaken,
// timings JSON. Reply: updated record JSON, or false when absent.
var recordScoreScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return false end
local rec = cjson.decode(raw)
if #rec.attempts == 0 then return false end

local score = tonumber(ARGV[1])
local total = tonumber(ARGV[2])
local quizName = ARGV[3]
local quizPart = ARGV[4]
local elapsed = tonumber(ARGV[5])

local last = rec.attempts[#rec.attempts]
last.score = score
last.total = total
last.elapsed = elapsed
if quizName ~= '' then last.quiz = quizName end
if quizPart ~= '' then last.part = quizPart end
if ARGV[6] ~= '' then last.timings = cjson.decode(ARGV[6]) end

rec.score = score
rec.total = total
rec.elapsed = elapsed
if quizName ~= '' then rec.quizName = quizName end

local out = cjson.encode(rec)
redis.call('SET', KEYS[1], out)
return out
`)

// ParticipantStore keeps one JSON record per normalized email. Timestamps
// are stored as unix milliseconds so the Lua scripts can compare them.
type ParticipantStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParticipantStore(client *redis.Client, ttl time.Duration) *ParticipantStore {
	return &ParticipantStore{client: client, ttl: ttl}
}

type storedTiming struct {
	Round   string `json:"round"`
	Seconds int    `json:"secs"`
}

type storedAttempt struct {
	Number  int            `json:"n"`
	TS      int64          `json:"ts"`
	Quiz    string         `json:"quiz,omitempty"`
	Part    string         `json:"part,omitempty"`
	Score   *int           `json:"score,omitempty"`
	Total   *int           `json:"total,omitempty"`
	Elapsed int            `json:"elapsed,omitempty"`
	Timings []storedTiming `json:"timings,omitempty"`
}

type storedParticipant struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	JoinedOn int64           `json:"joinedOn"`
	Score    *int            `json:"score,omitempty"`
	Total    *int            `json:"total,omitempty"`
	QuizName string          `json:"quizName,omitempty"`
	Elapsed  int             `json:"elapsed,omitempty"`
	Attempts []storedAttempt `json:"attempts"`
	Daily    int             `json:"daily"`
	Last     int64           `json:"last"`
}

func (s *ParticipantStore) key(email string) string {
	return keyPrefix + email
}

func (s *ParticipantStore) FindByEmail(ctx context.Context, email string) (domain.Participant, error) {
	raw, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, storeErr(err)
	}
	return decodeRecord(raw)
}

func (s *ParticipantStore) List(ctx context.Context) ([]domain.Participant, error) {
	var out []domain.Participant
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, storeErr(err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedOn.After(out[j].JoinedOn)
	})
	return out, nil
}

func (s *ParticipantStore) RecordAttempt(ctx context.Context, in app.AttemptInsert) (app.AttemptOutcome, error) {
	ttlSeconds := 0
	if s.ttl > 0 {
		ttlSeconds = int(s.ttl / time.Second)
	}
	reply, err := recordAttemptScript.Run(ctx, s.client,
		[]string{s.key(in.Email)},
		in.Cap,
		in.DayStart.UnixMilli(),
		in.DayEnd.UnixMilli(),
		in.Now.UnixMilli(),
		in.Name,
		in.Email,
		in.QuizName,
		in.QuizPart,
		ttlSeconds,
	).Int64Slice()
	if err != nil {
		return app.AttemptOutcome{}, storeErr(err)
	}
	if len(reply) != 4 {
		return app.AttemptOutcome{}, storeErr(fmt.Errorf("unexpected script reply length %d", len(reply)))
	}
	return app.AttemptOutcome{
		Admitted:        reply[0] == 1,
		Created:         reply[1] == 1,
		AttemptNumber:   int(reply[2]),
		CurrentAttempts: int(reply[3]),
	}, nil
}

func (s *ParticipantStore) RecordScore(ctx context.Context, in app.ScoreUpdate) (domain.Participant, error) {
	timingsJSON := ""
	if len(in.RoundTimings) > 0 {
		stored := make([]storedTiming, len(in.RoundTimings))
		for i, t := range in.RoundTimings {
			stored[i] = storedTiming{Round: t.RoundName, Seconds: t.SecondsTaken}
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return domain.Participant{}, err
		}
		timingsJSON = string(data)
	}

	raw, err := recordScoreScript.Run(ctx, s.client,
		[]string{s.key(in.Email)},
		in.Score,
		in.Total,
		in.QuizName,
		in.QuizPart,
		in.TimeTaken,
		timingsJSON,
	).Text()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, storeErr(err)
	}
	return decodeRecord([]byte(raw))
}

func decodeRecord(raw []byte) (domain.Participant, error) {
	var stored storedParticipant
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	rec := domain.Participant{
		Name:            stored.Name,
		Email:           stored.Email,
		Score:           stored.Score,
		Total:           stored.Total,
		QuizName:        stored.QuizName,
		TimeTaken:       stored.Elapsed,
		JoinedOn:        time.UnixMilli(stored.JoinedOn),
		DailyAttempts:   stored.Daily,
		LastAttemptDate: time.UnixMilli(stored.Last),
	}
	for _, a := range stored.Attempts {
		attempt := domain.Attempt{
			AttemptNumber: a.Number,
			Timestamp:     time.UnixMilli(a.TS),
			QuizName:      a.Quiz,
			QuizPart:      a.Part,
			Score:         a.Score,
			Total:         a.Total,
			TimeTaken:     a.Elapsed,
		}
		for _, t := range a.Timings {
			attempt.RoundTimings = append(attempt.RoundTimings, domain.RoundTiming{
				RoundName:    t.Round,
				SecondsTaken: t.Seconds,
			})
		}
		rec.Attempts = append(rec.Attempts, attempt)
	}
	return rec, nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
