package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/notify"
)

// Handler exposes the attempt-quota core over JSON endpoints.
type Handler struct {
	service      *app.AttemptService
	certificates *notify.CertificateClient
	log          *zap.Logger
}

func NewHandler(service *app.AttemptService, certificates *notify.CertificateClient, log *zap.Logger) *Handler {
	return &Handler{service: service, certificates: certificates, log: log}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/attempts/check", h.checkAttempts)
	mux.HandleFunc("/attempts/record", h.recordAttempt)
	mux.HandleFunc("/attempts/score", h.recordScore)
	mux.HandleFunc("/participants", h.listParticipants)
	mux.HandleFunc("/participants/exists", h.emailExists)
	mux.HandleFunc("/certificate/send", h.sendCertificate)
}

type checkRequest struct {
	Email    string `json:"email"`
	QuizPart string `json:"quizPart,omitempty"`
}

type quotaResponse struct {
	CanAttempt        bool   `json:"canAttempt"`
	CurrentAttempts   int    `json:"currentAttempts"`
	RemainingAttempts int    `json:"remainingAttempts"`
	MaxAttempts       int    `json:"maxAttempts"`
	TimeUntilResetMs  int64  `json:"timeUntilReset"`
	Message           string `json:"message,omitempty"`
}

func (h *Handler) checkAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status, err := h.service.CheckAttempts(r.Context(), req.Email, req.QuizPart)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	msg := "You can attempt the quiz"
	if !status.CanAttempt {
		msg = "Daily limit reached"
	}
	writeJSON(w, http.StatusOK, quotaResponse{
		CanAttempt:        status.CanAttempt,
		CurrentAttempts:   status.CurrentAttempts,
		RemainingAttempts: status.RemainingAttempts,
		MaxAttempts:       status.MaxAttempts,
		TimeUntilResetMs:  status.TimeUntilReset.Milliseconds(),
		Message:           msg,
	})
}

type recordRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	QuizName string `json:"quizName,omitempty"`
	QuizPart string `json:"quizPart,omitempty"`
}

type recordResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	AttemptNumber     int    `json:"attemptNumber,omitempty"`
	CurrentAttempts   int    `json:"currentAttempts"`
	RemainingAttempts int    `json:"remainingAttempts"`
	TimeUntilResetMs  int64  `json:"timeUntilReset,omitempty"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
}

func (h *Handler) recordAttempt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.service.RecordAttempt(r.Context(), req.Name, req.Email, req.QuizName, req.QuizPart)
	if errors.Is(err, domain.ErrQuotaExceeded) {
		writeJSON(w, http.StatusTooManyRequests, recordResponse{
			Success:          false,
			Message:          "Daily attempt limit reached",
			CurrentAttempts:  res.CurrentAttempts,
			TimeUntilResetMs: res.TimeUntilReset.Milliseconds(),
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, recordResponse{
		Success:           true,
		Message:           "Attempt recorded successfully",
		AttemptNumber:     res.AttemptNumber,
		CurrentAttempts:   res.CurrentAttempts,
		RemainingAttempts: res.RemainingAttempts,
		Name:              res.Name,
		Email:             res.Email,
	})
}

type scoreRequest struct {
	Email        string               `json:"email"`
	Score        int                  `json:"score"`
	Total        int                  `json:"total"`
	QuizName     string               `json:"quizName,omitempty"`
	QuizPart     string               `json:"quizPart,omitempty"`
	RoundTimings []domain.RoundTiming `json:"roundTimings,omitempty"`
}

func (h *Handler) recordScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	summary, err := h.service.RecordScore(r.Context(), req.Email, req.Score, req.Total,
		req.QuizName, req.QuizPart, req.RoundTimings)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	participants, err := h.service.ListParticipants(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if participants == nil {
		participants = []domain.Participant{}
	}
	writeJSON(w, http.StatusOK, participants)
}

func (h *Handler) emailExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	exists, err := h.service.EmailExists(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) sendCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.certificates == nil || !h.certificates.Configured() {
		writeError(w, http.StatusServiceUnavailable, "certificate service not configured")
		return
	}
	var req notify.CertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if req.Date == "" {
		req.Date = time.Now().Format("January 2, 2006")
	}

	if err := h.certificates.Send(r.Context(), req); err != nil {
		h.log.Warn("certificate send failed", zap.String("email", req.Email), zap.Error(err))
		writeError(w, http.StatusBadGateway, "certificate delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Certificate sent"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingEmail), errors.Is(err, domain.ErrMissingName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoAttempts), errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.log.Error("participant store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		h.log.Error("unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
