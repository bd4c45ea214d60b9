package app_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

func newTestService(now func() time.Time) *app.AttemptService {
	return app.NewAttemptService(
		memory.NewParticipantStore(),
		3,
		time.UTC,
		zap.NewNop(),
		app.WithClock(now),
	)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckAttemptsUnknownEmail(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))

	status, err := service.CheckAttempts(ctx, "new@x.com", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.CanAttempt || status.CurrentAttempts != 0 || status.RemainingAttempts != 3 {
		t.Fatalf("expected full quota for unknown email, got %+v", status)
	}
	if status.TimeUntilReset != 14*time.Hour {
		t.Fatalf("expected 14h until midnight, got %v", status.TimeUntilReset)
	}
}

func TestCheckAttemptsMissingEmail(t *testing.T) {
	service := newTestService(time.Now)
	if _, err := service.CheckAttempts(context.Background(), "  ", ""); !errors.Is(err, domain.ErrMissingEmail) {
		t.Fatalf("expected ErrMissingEmail, got %v", err)
	}
}

func TestDailyCapEnforced(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)))

	for i := 1; i <= 3; i++ {
		res, err := service.RecordAttempt(ctx, "Alice", "a@x.com", "GK Quiz", "")
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !res.Accepted || res.CurrentAttempts != i {
			t.Fatalf("attempt %d: expected accepted with count %d, got %+v", i, i, res)
		}
		if res.AttemptNumber != i {
			t.Fatalf("attempt %d: expected attemptNumber %d, got %d", i, i, res.AttemptNumber)
		}
	}

	res, err := service.RecordAttempt(ctx, "Alice", "a@x.com", "GK Quiz", "")
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded on 4th attempt, got %v", err)
	}
	if res.Accepted || res.CurrentAttempts != 3 || res.RemainingAttempts != 0 {
		t.Fatalf("unexpected rejection payload %+v", res)
	}
	if res.TimeUntilReset <= 0 {
		t.Fatalf("expected positive timeUntilReset, got %v", res.TimeUntilReset)
	}

	// Rejection must not mutate the record.
	status, err := service.CheckAttempts(ctx, "a@x.com", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.CurrentAttempts != 3 || status.CanAttempt {
		t.Fatalf("expected exhausted quota, got %+v", status)
	}
}

func TestDayRolloverResetsQuota(t *testing.T) {
	ctx := context.Background()
	var now atomic.Value
	now.Store(time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC))
	service := newTestService(func() time.Time { return now.Load().(time.Time) })

	for i := 0; i < 3; i++ {
		if _, err := service.RecordAttempt(ctx, "Bob", "b@x.com", "", ""); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := service.RecordAttempt(ctx, "Bob", "b@x.com", "", ""); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	// Next day the stale counter must read as zero.
	now.Store(time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC))
	status, err := service.CheckAttempts(ctx, "b@x.com", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.CanAttempt || status.CurrentAttempts != 0 || status.RemainingAttempts != 3 {
		t.Fatalf("expected reset quota after rollover, got %+v", status)
	}

	res, err := service.RecordAttempt(ctx, "Bob", "b@x.com", "", "")
	if err != nil {
		t.Fatalf("record after rollover: %v", err)
	}
	if res.CurrentAttempts != 1 || res.AttemptNumber != 4 {
		t.Fatalf("expected daily count 1 and monotonic attemptNumber 4, got %+v", res)
	}
}

func TestPerPartQuotasAreIndependent(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	for i := 0; i < 3; i++ {
		if _, err := service.RecordAttempt(ctx, "Cara", "c@x.com", "Quiz", "A"); err != nil {
			t.Fatalf("part A attempt %d: %v", i+1, err)
		}
	}
	if _, err := service.RecordAttempt(ctx, "Cara", "c@x.com", "Quiz", "A"); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected part A exhausted, got %v", err)
	}

	status, err := service.CheckAttempts(ctx, "c@x.com", "B")
	if err != nil {
		t.Fatalf("check part B: %v", err)
	}
	if !status.CanAttempt || status.CurrentAttempts != 0 {
		t.Fatalf("part B should be untouched by part A usage, got %+v", status)
	}

	if _, err := service.RecordAttempt(ctx, "Cara", "c@x.com", "Quiz", "B"); err != nil {
		t.Fatalf("part B attempt: %v", err)
	}
}

func TestEmailNormalizationSharesQuota(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	if _, err := service.RecordAttempt(ctx, "Dan", "  A@X.COM ", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	status, err := service.CheckAttempts(ctx, "a@x.com", "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.CurrentAttempts != 1 {
		t.Fatalf("expected shared quota across casings, got %+v", status)
	}

	exists, err := service.EmailExists(ctx, "A@x.Com")
	if err != nil || !exists {
		t.Fatalf("expected email to exist regardless of casing, got %v %v", exists, err)
	}
}

func TestRecordScoreRequiresAttempt(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	_, err := service.RecordScore(ctx, "ghost@x.com", 5, 10, "", "", nil)
	if !errors.Is(err, domain.ErrNoAttempts) {
		t.Fatalf("expected ErrNoAttempts, got %v", err)
	}

	if _, err := service.RecordAttempt(ctx, "Eve", "e@x.com", "GK Quiz", "A"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	timings := []domain.RoundTiming{
		{RoundName: "round-1", SecondsTaken: 40},
		{RoundName: "round-2", SecondsTaken: 35},
	}
	summary, err := service.RecordScore(ctx, "e@x.com", 8, 10, "GK Quiz", "A", timings)
	if err != nil {
		t.Fatalf("record score: %v", err)
	}
	if summary.Score != 8 || summary.Total != 10 || summary.TimeTaken != 75 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.AttemptNumber != 1 {
		t.Fatalf("expected score on attempt 1, got %d", summary.AttemptNumber)
	}

	// Score must land on the most recent attempt and the record mirrors.
	participants, err := service.ListParticipants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(participants) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(participants))
	}
	rec := participants[0]
	if rec.Score == nil || *rec.Score != 8 || rec.TimeTaken != 75 {
		t.Fatalf("expected mirrored score, got %+v", rec)
	}
	last := rec.Attempts[len(rec.Attempts)-1]
	if last.Score == nil || *last.Score != 8 || len(last.RoundTimings) != 2 {
		t.Fatalf("expected score attached to latest attempt, got %+v", last)
	}
}

func TestConcurrentRecordsNeverOveradmit(t *testing.T) {
	ctx := context.Background()
	service := newTestService(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	var accepted, rejected int64
	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		group.Go(func() error {
			_, err := service.RecordAttempt(gctx, "Flood", "flood@x.com", "", "")
			switch {
			case err == nil:
				atomic.AddInt64(&accepted, 1)
			case errors.Is(err, domain.ErrQuotaExceeded):
				atomic.AddInt64(&rejected, 1)
			default:
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatalf("concurrent records: %v", err)
	}
	if accepted != 3 || rejected != 7 {
		t.Fatalf("expected exactly 3 accepted and 7 rejected, got %d/%d", accepted, rejected)
	}
}

type recordingNotifier struct {
	joined  int64
	started int64
	scored  int64
}

func (n *recordingNotifier) ParticipantJoined(string, string) { atomic.AddInt64(&n.joined, 1) }
func (n *recordingNotifier) AttemptStarted(string, string, int, int) {
	atomic.AddInt64(&n.started, 1)
}
func (n *recordingNotifier) ScoreUpdated(string, string, int, int) { atomic.AddInt64(&n.scored, 1) }

func TestNotifierReceivesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	service := app.NewAttemptService(
		memory.NewParticipantStore(),
		3,
		time.UTC,
		zap.NewNop(),
		app.WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))),
		app.WithNotifier(notifier),
	)

	if _, err := service.RecordAttempt(ctx, "Gia", "g@x.com", "", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := service.RecordAttempt(ctx, "Gia", "g@x.com", "", ""); err != nil {
		t.Fatalf("record 2: %v", err)
	}
	if _, err := service.RecordScore(ctx, "g@x.com", 1, 5, "", "", nil); err != nil {
		t.Fatalf("score: %v", err)
	}

	if notifier.joined != 1 {
		t.Fatalf("expected one joined event, got %d", notifier.joined)
	}
	if notifier.started != 2 {
		t.Fatalf("expected two attemptStarted events, got %d", notifier.started)
	}
	if notifier.scored != 1 {
		t.Fatalf("expected one scoreUpdated event, got %d", notifier.scored)
	}
}
