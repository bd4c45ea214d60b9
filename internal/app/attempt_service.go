package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// AttemptInsert carries everything a store needs to admit one attempt as a
// single conditional operation. The day window and clock reading are taken
// once by the service so every comparison inside the operation agrees on
// what "today" means.
type AttemptInsert struct {
	Email    string
	Name     string
	QuizName string
	QuizPart string // when set, the cap applies per part
	Now      time.Time
	DayStart time.Time
	DayEnd   time.Time
	Cap      int
}

// AttemptOutcome reports what the store decided. CurrentAttempts is the
// same-day count in the requested scope after admission, or the count that
// caused the rejection.
type AttemptOutcome struct {
	Admitted        bool
	Created         bool
	AttemptNumber   int
	CurrentAttempts int
}

// ScoreUpdate attaches a result to the most recent attempt for an email.
type ScoreUpdate struct {
	Email        string
	Score        int
	Total        int
	QuizName     string
	QuizPart     string
	RoundTimings []domain.RoundTiming
	TimeTaken    int
	Now          time.Time
}

// ParticipantStore abstracts where participant records live (in-memory,
// Redis, Postgres). RecordAttempt must be atomic per email: two concurrent
// calls may never both observe the same pre-increment count and both be
// admitted. A rejected call leaves the record untouched.
type ParticipantStore interface {
	FindByEmail(ctx context.Context, email string) (domain.Participant, error)
	List(ctx context.Context) ([]domain.Participant, error)
	RecordAttempt(ctx context.Context, in AttemptInsert) (AttemptOutcome, error)
	RecordScore(ctx context.Context, in ScoreUpdate) (domain.Participant, error)
}

// Notifier pushes activity events to the admin dashboard. Implementations
// are best-effort: they must never block or fail the calling operation.
type Notifier interface {
	ParticipantJoined(name, email string)
	AttemptStarted(name, email string, attemptNumber, currentAttempts int)
	ScoreUpdated(name, email string, score, total int)
}

// NoopNotifier is used when no admin dashboard is configured.
type NoopNotifier struct{}

func (NoopNotifier) ParticipantJoined(string, string)        {}
func (NoopNotifier) AttemptStarted(string, string, int, int) {}
func (NoopNotifier) ScoreUpdated(string, string, int, int)   {}

// AttemptService contains the registration-check, quota-gate, attempt and
// score recording use cases.
type AttemptService struct {
	store        ParticipantStore
	notifier     Notifier
	cap          int
	loc          *time.Location
	storeTimeout time.Duration
	now          func() time.Time
	log          *zap.Logger
}

// Option tweaks an AttemptService; used mostly by tests.
type Option func(*AttemptService)

// WithClock swaps the time source for deterministic day-boundary tests.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

// WithNotifier wires an admin-dashboard notifier.
func WithNotifier(n Notifier) Option {
	return func(s *AttemptService) { s.notifier = n }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *AttemptService) { s.storeTimeout = d }
}

func NewAttemptService(store ParticipantStore, dailyCap int, loc *time.Location, log *zap.Logger, opts ...Option) *AttemptService {
	s := &AttemptService{
		store:        store,
		notifier:     NoopNotifier{},
		cap:          dailyCap,
		loc:          loc,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail lower-cases and trims an address; every lookup and write
// goes through this so A@X.COM and a@x.com share one record.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dayWindow returns [midnight, next midnight) around now in the service zone.
func dayWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

func (s *AttemptService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// CheckAttempts reports today's quota usage for an email. An unknown email
// is not an error: it simply has the full quota available.
func (s *AttemptService) CheckAttempts(ctx context.Context, email, quizPart string) (domain.QuotaStatus, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domain.QuotaStatus{}, domain.ErrMissingEmail
	}

	now := s.now().In(s.loc)
	dayStart, dayEnd := dayWindow(now)

	status := domain.QuotaStatus{
		MaxAttempts:    s.cap,
		TimeUntilReset: dayEnd.Sub(now),
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	rec, err := s.store.FindByEmail(sctx, email)
	switch {
	case errors.Is(err, domain.ErrParticipantNotFound):
		status.CanAttempt = true
		status.RemainingAttempts = s.cap
		return status, nil
	case err != nil:
		return domain.QuotaStatus{}, err
	}

	used := domain.AttemptsToday(rec, dayStart, dayEnd, quizPart)
	status.CurrentAttempts = used
	status.CanAttempt = used < s.cap
	if remaining := s.cap - used; remaining > 0 {
		status.RemainingAttempts = remaining
	}
	return status, nil
}

// RecordAttempt admits and persists a new attempt, or rejects it with
// ErrQuotaExceeded when today's cap in the requested scope is used up.
// Rejection mutates nothing; the returned RecordResult still carries the
// counters and reset time for the caller's response.
func (s *AttemptService) RecordAttempt(ctx context.Context, name, email, quizName, quizPart string) (domain.RecordResult, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if email == "" {
		return domain.RecordResult{}, domain.ErrMissingEmail
	}
	if name == "" {
		return domain.RecordResult{}, domain.ErrMissingName
	}

	now := s.now().In(s.loc)
	dayStart, dayEnd := dayWindow(now)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.store.RecordAttempt(sctx, AttemptInsert{
		Email:    email,
		Name:     name,
		QuizName: quizName,
		QuizPart: quizPart,
		Now:      now,
		DayStart: dayStart,
		DayEnd:   dayEnd,
		Cap:      s.cap,
	})
	if err != nil {
		return domain.RecordResult{}, err
	}

	if !out.Admitted {
		s.log.Debug("attempt rejected by daily quota",
			zap.String("email", email),
			zap.Int("currentAttempts", out.CurrentAttempts))
		return domain.RecordResult{
			Accepted:        false,
			Name:            name,
			Email:           email,
			CurrentAttempts: out.CurrentAttempts,
			TimeUntilReset:  dayEnd.Sub(now),
		}, domain.ErrQuotaExceeded
	}

	if out.Created {
		s.notifier.ParticipantJoined(name, email)
	}
	s.notifier.AttemptStarted(name, email, out.AttemptNumber, out.CurrentAttempts)

	res := domain.RecordResult{
		Accepted:        true,
		Created:         out.Created,
		Name:            name,
		Email:           email,
		AttemptNumber:   out.AttemptNumber,
		CurrentAttempts: out.CurrentAttempts,
		TimeUntilReset:  dayEnd.Sub(now),
	}
	if remaining := s.cap - out.CurrentAttempts; remaining > 0 {
		res.RemainingAttempts = remaining
	}
	return res, nil
}

// RecordScore attaches a final score to the most recent attempt for an
// email. Scoring cannot precede attempting: an email with no attempts gets
// ErrNoAttempts.
func (s *AttemptService) RecordScore(ctx context.Context, email string, score, total int, quizName, quizPart string, timings []domain.RoundTiming) (domain.ScoreSummary, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domain.ScoreSummary{}, domain.ErrMissingEmail
	}

	elapsed := 0
	for _, t := range timings {
		elapsed += t.SecondsTaken
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	rec, err := s.store.RecordScore(sctx, ScoreUpdate{
		Email:        email,
		Score:        score,
		Total:        total,
		QuizName:     quizName,
		QuizPart:     quizPart,
		RoundTimings: timings,
		TimeTaken:    elapsed,
		Now:          s.now().In(s.loc),
	})
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return domain.ScoreSummary{}, domain.ErrNoAttempts
		}
		return domain.ScoreSummary{}, err
	}

	s.notifier.ScoreUpdated(rec.Name, rec.Email, score, total)

	last := rec.Attempts[len(rec.Attempts)-1]
	return domain.ScoreSummary{
		Name:          rec.Name,
		Email:         rec.Email,
		Score:         score,
		Total:         total,
		QuizName:      last.QuizName,
		QuizPart:      last.QuizPart,
		AttemptNumber: last.AttemptNumber,
		TimeTaken:     elapsed,
		RoundTimings:  timings,
	}, nil
}

// EmailExists reports whether any record exists for the email. Pure read.
func (s *AttemptService) EmailExists(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, domain.ErrMissingEmail
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	_, err := s.store.FindByEmail(sctx, email)
	if errors.Is(err, domain.ErrParticipantNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListParticipants returns every record, newest first.
func (s *AttemptService) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.List(sctx)
}
