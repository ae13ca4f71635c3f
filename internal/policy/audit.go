package policy

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/jsonx"
)

// AuditEvent records one admission decision.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Check     string    `json:"check"`  // "auth", "rate_limit", "content_filter"
	Effect    string    `json:"effect"` // "ALLOW" or "DENY"
	Reason    string    `json:"reason,omitempty"`
}

// AuditLogger records admission decisions to the structured log and,
// when a NATS connection is configured, publishes denials for real-time
// consumers. Events are queued on a buffered channel; a full buffer
// degrades to synchronous logging rather than dropping the event.
type AuditLogger struct {
	natsConn *nats.Conn
	logger   *zap.Logger
	enabled  bool
	events   chan AuditEvent
	done     chan struct{}
}

// NewAuditLogger creates an audit logger. natsConn may be nil.
func NewAuditLogger(natsConn *nats.Conn, logger *zap.Logger, enabled bool) *AuditLogger {
	al := &AuditLogger{
		natsConn: natsConn,
		logger:   logger,
		enabled:  enabled,
		events:   make(chan AuditEvent, 1000),
		done:     make(chan struct{}),
	}
	if enabled {
		go al.process()
	}
	return al
}

// Record queues an audit event.
func (al *AuditLogger) Record(event AuditEvent) {
	if !al.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case al.events <- event:
	default:
		al.logger.Warn("Audit buffer full, logging synchronously")
		al.emit(event)
	}
}

// Deny is a convenience for recording a denial.
func (al *AuditLogger) Deny(userID, check, reason string) {
	al.Record(AuditEvent{UserID: userID, Check: check, Effect: "DENY", Reason: reason})
}

func (al *AuditLogger) process() {
	for {
		select {
		case event := <-al.events:
			al.emit(event)
		case <-al.done:
			// Drain what is already queued.
			for {
				select {
				case event := <-al.events:
					al.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (al *AuditLogger) emit(event AuditEvent) {
	al.logger.Info("AUDIT",
		zap.String("check", event.Check),
		zap.String("user", event.UserID),
		zap.String("effect", event.Effect),
		zap.String("reason", event.Reason))

	if al.natsConn != nil && event.Effect == "DENY" {
		data, err := jsonx.Marshal(event)
		if err != nil {
			al.logger.Warn("Failed to marshal audit event", zap.Error(err))
			return
		}
		if err := al.natsConn.Publish("brain.audit."+event.Check, data); err != nil {
			al.logger.Warn("Failed to publish audit event", zap.Error(err))
		}
	}
}

// Close stops the background worker after draining queued events.
func (al *AuditLogger) Close() {
	if al.enabled {
		close(al.done)
	}
}
