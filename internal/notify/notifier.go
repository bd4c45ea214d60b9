package notify

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// event mirrors the admin dashboard's socket protocol.
type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type participantPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type attemptPayload struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	AttemptNumber   int    `json:"attemptNumber"`
	CurrentAttempts int    `json:"currentAttempts"`
}

type scorePayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Score int    `json:"score"`
	Total int    `json:"total"`
}

// WSNotifier pushes participant activity to the admin dashboard over a
// websocket. Everything is best-effort: emits never block the caller, and
// when the dashboard is unreachable events are dropped, not queued forever.
type WSNotifier struct {
	url    string
	log    *zap.Logger
	events chan event
}

func NewWSNotifier(url string, log *zap.Logger) *WSNotifier {
	return &WSNotifier{
		url:    url,
		log:    log,
		events: make(chan event, 64),
	}
}

func (n *WSNotifier) ParticipantJoined(name, email string) {
	n.emit(event{Type: "user:joined", Payload: participantPayload{Name: name, Email: email}})
}

func (n *WSNotifier) AttemptStarted(name, email string, attemptNumber, currentAttempts int) {
	n.emit(event{Type: "user:attemptStarted", Payload: attemptPayload{
		Name:            name,
		Email:           email,
		AttemptNumber:   attemptNumber,
		CurrentAttempts: currentAttempts,
	}})
}

func (n *WSNotifier) ScoreUpdated(name, email string, score, total int) {
	n.emit(event{Type: "user:scoreUpdated", Payload: scorePayload{
		Name:  name,
		Email: email,
		Score: score,
		Total: total,
	}})
}

func (n *WSNotifier) emit(e event) {
	select {
	case n.events <- e:
	default:
		n.log.Debug("notifier buffer full, dropping event", zap.String("type", e.Type))
	}
}

// Run owns the connection: dial with capped backoff, write queued events,
// redial on write failure. It returns when ctx is canceled.
func (n *WSNotifier) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.url, nil)
		if err != nil {
			n.log.Warn("admin dashboard unreachable", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		n.log.Info("connected to admin dashboard", zap.String("url", n.url))
		backoff = time.Second

		if err := n.pump(ctx, conn); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.log.Warn("admin dashboard connection lost", zap.Error(err))
			continue
		}
		conn.Close()
		return nil
	}
}

func (n *WSNotifier) pump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case e := <-n.events:
			if err := conn.WriteJSON(e); err != nil {
				return err
			}
		}
	}
}
