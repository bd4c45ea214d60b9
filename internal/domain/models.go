package domain

import "time"

// RoundTiming records how long a participant spent on one quiz round.
type RoundTiming struct {
	RoundName    string `json:"roundName"`
	SecondsTaken int    `json:"secondsTaken"`
}

// Attempt is one quiz-taking session. Score and Total stay nil until the
// session is scored.
type Attempt struct {
	AttemptNumber int           `json:"attemptNumber"`
	Timestamp     time.Time     `json:"timestamp"`
	QuizName      string        `json:"quizName,omitempty"`
	QuizPart      string        `json:"quizPart,omitempty"`
	Score         *int          `json:"score,omitempty"`
	Total         *int          `json:"total,omitempty"`
	RoundTimings  []RoundTiming `json:"roundTimings,omitempty"`
	TimeTaken     int           `json:"timeTaken,omitempty"`
}

// Participant is the single record kept per normalized email. Attempts are
// appended in order; Score/Total/TimeTaken mirror the latest scored attempt.
type Participant struct {
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Score           *int      `json:"score"`
	Total           *int      `json:"total"`
	QuizName        string    `json:"quizName,omitempty"`
	TimeTaken       int       `json:"timeTaken,omitempty"`
	JoinedOn        time.Time `json:"joinedOn"`
	Attempts        []Attempt `json:"attempts"`
	DailyAttempts   int       `json:"dailyAttempts"`
	LastAttemptDate time.Time `json:"lastAttemptDate"`
}

// QuotaStatus reports how much of today's attempt quota an email has used.
type QuotaStatus struct {
	CanAttempt        bool          `json:"canAttempt"`
	CurrentAttempts   int           `json:"currentAttempts"`
	RemainingAttempts int           `json:"remainingAttempts"`
	MaxAttempts       int           `json:"maxAttempts"`
	TimeUntilReset    time.Duration `json:"timeUntilReset"`
}

// RecordResult is the outcome of trying to record an attempt. When the quota
// is exhausted Accepted is false and the counters describe the rejection.
type RecordResult struct {
	Accepted          bool          `json:"accepted"`
	Created           bool          `json:"created"`
	Name              string        `json:"name"`
	Email             string        `json:"email"`
	AttemptNumber     int           `json:"attemptNumber"`
	CurrentAttempts   int           `json:"currentAttempts"`
	RemainingAttempts int           `json:"remainingAttempts"`
	TimeUntilReset    time.Duration `json:"timeUntilReset"`
}

// ScoreSummary is the updated view returned after a score is attached.
type ScoreSummary struct {
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Score         int           `json:"score"`
	Total         int           `json:"total"`
	QuizName      string        `json:"quizName,omitempty"`
	QuizPart      string        `json:"quizPart,omitempty"`
	AttemptNumber int           `json:"attemptNumber"`
	TimeTaken     int           `json:"timeTaken"`
	RoundTimings  []RoundTiming `json:"roundTimings,omitempty"`
}

// AttemptsToday counts the attempts that charge against today's quota.
// With a part, attempts are filtered to the [dayStart, dayEnd) window and the
// matching part. Without one, the stored daily counter is used when the last
// attempt falls inside the window; a stale counter counts as zero.
func AttemptsToday(p Participant, dayStart, dayEnd time.Time, part string) int {
	if part != "" {
		n := 0
		for _, a := range p.Attempts {
			if !a.Timestamp.Before(dayStart) && a.Timestamp.Before(dayEnd) && a.QuizPart == part {
				n++
			}
		}
		return n
	}
	if !p.LastAttemptDate.Before(dayStart) && p.LastAttemptDate.Before(dayEnd) {
		return p.DailyAttempts
	}
	return 0
}
