package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// ParticipantStore is an in-memory implementation of app.ParticipantStore.
// The store mutex covers the whole read-check-append sequence, so the
// quota condition and the increment are observed as one step per email.
type ParticipantStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Participant
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		records: make(map[string]*domain.Participant),
	}
}

func (s *ParticipantStore) FindByEmail(ctx context.Context, email string) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[email]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return cloneRecord(rec), nil
}

func (s *ParticipantStore) List(ctx context.Context) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedOn.After(out[j].JoinedOn)
	})
	return out, nil
}

func (s *ParticipantStore) RecordAttempt(ctx context.Context, in app.AttemptInsert) (app.AttemptOutcome, error) {
	if err := ctx.Err(); err != nil {
		return app.AttemptOutcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[in.Email]
	if !ok {
		s.records[in.Email] = &domain.Participant{
			Name:     in.Name,
			Email:    in.Email,
			JoinedOn: in.Now,
			Attempts: []domain.Attempt{{
				AttemptNumber: 1,
				Timestamp:     in.Now,
				QuizName:      in.QuizName,
				QuizPart:      in.QuizPart,
			}},
			DailyAttempts:   1,
			LastAttemptDate: in.Now,
		}
		return app.AttemptOutcome{Admitted: true, Created: true, AttemptNumber: 1, CurrentAttempts: 1}, nil
	}

	used := domain.AttemptsToday(*rec, in.DayStart, in.DayEnd, in.QuizPart)
	if used >= in.Cap {
		return app.AttemptOutcome{CurrentAttempts: used}, nil
	}

	number := len(rec.Attempts) + 1
	rec.Attempts = append(rec.Attempts, domain.Attempt{
		AttemptNumber: number,
		Timestamp:     in.Now,
		QuizName:      in.QuizName,
		QuizPart:      in.QuizPart,
	})
	if domain.AttemptsToday(*rec, in.DayStart, in.DayEnd, "") == 0 {
		rec.DailyAttempts = 1
	} else {
		rec.DailyAttempts++
	}
	rec.LastAttemptDate = in.Now
	rec.Name = in.Name

	return app.AttemptOutcome{Admitted: true, AttemptNumber: number, CurrentAttempts: used + 1}, nil
}

func (s *ParticipantStore) RecordScore(ctx context.Context, in app.ScoreUpdate) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[in.Email]
	if !ok || len(rec.Attempts) == 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}

	score, total := in.Score, in.Total
	last := &rec.Attempts[len(rec.Attempts)-1]
	last.Score = &score
	last.Total = &total
	last.TimeTaken = in.TimeTaken
	if in.QuizName != "" {
		last.QuizName = in.QuizName
	}
	if in.QuizPart != "" {
		last.QuizPart = in.QuizPart
	}
	if len(in.RoundTimings) > 0 {
		last.RoundTimings = append([]domain.RoundTiming(nil), in.RoundTimings...)
	}

	rec.Score = &score
	rec.Total = &total
	rec.TimeTaken = in.TimeTaken
	if in.QuizName != "" {
		rec.QuizName = in.QuizName
	}

	return cloneRecord(rec), nil
}

// cloneRecord copies a record so callers never share slices with the store.
func cloneRecord(rec *domain.Participant) domain.Participant {
	out := *rec
	out.Attempts = append([]domain.Attempt(nil), rec.Attempts...)
	for i := range out.Attempts {
		if len(out.Attempts[i].RoundTimings) > 0 {
			out.Attempts[i].RoundTimings = append([]domain.RoundTiming(nil), out.Attempts[i].RoundTimings...)
		}
	}
	return out
}
