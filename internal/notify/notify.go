// Package notify hands alerts and completed-walk summaries to the delivery
// and billing collaborators without ever blocking the caller.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"backend-walkguard/internal/walk"
)

type AlertType string

const (
	AlertGeofenceExit   AlertType = "geofence_exit"
	AlertGeofenceReturn AlertType = "geofence_return"
	AlertNewBooking     AlertType = "new_booking"
	AlertWalkStarted    AlertType = "walk_started"
	AlertCompletion     AlertType = "completion"
	AlertEmergencyStop  AlertType = "emergency_stop"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	SessionID string    `json:"session_id"`
	Type      AlertType `json:"alert_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const summaryRoutingKey = "walk.summary"

func alertRoutingKey(t AlertType) string {
	return "walk.alert." + string(t)
}

// Sink receives notifications from the walk services. Implementations must
// not block and must not report delivery failures back to the caller.
type Sink interface {
	Alert(a Alert)
	Summary(s walk.Summary)
}

// Discard drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Alert(Alert)          {}
func (discard) Summary(walk.Summary) {}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type message struct {
	key  string
	body []byte
}

// Notifier queues messages on a bounded buffer drained by Run.
type Notifier struct {
	pub     Publisher
	queue   chan message
	timeout time.Duration
	now     func() time.Time
}

func NewNotifier(pub Publisher, size int) *Notifier {
	if size <= 0 {
		size = 256
	}
	return &Notifier{
		pub:     pub,
		queue:   make(chan message, size),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

func (n *Notifier) Alert(a Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = n.now().UTC()
	}
	n.enqueue(alertRoutingKey(a.Type), a, logrus.Fields{"session_id": a.SessionID, "alert_type": a.Type})
}

func (n *Notifier) Summary(s walk.Summary) {
	n.enqueue(summaryRoutingKey, s, logrus.Fields{"session_id": s.SessionID})
}

func (n *Notifier) enqueue(key string, v any, fields logrus.Fields) {
	body, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("notification encode failed")
		return
	}
	select {
	case n.queue <- message{key: key, body: body}:
	default:
		logrus.WithFields(fields).WithField("routing_key", key).Warn("notification queue full, dropping message")
	}
}

// Run publishes queued messages until ctx is cancelled, then flushes what
// is already buffered.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case msg := <-n.queue:
			n.publish(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-n.queue:
					n.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) publish(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, msg.key, msg.body); err != nil {
		logrus.WithError(err).WithField("routing_key", msg.key).Warn("notification delivery failed")
	}
}

// LogPublisher writes notifications to the log when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	logrus.WithField("routing_key", routingKey).Info(string(body))
	return nil
}
