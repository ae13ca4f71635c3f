package brain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/jsonx"
)

// Recorder persists interactions off the request path. Writes run on
// their own goroutine with a detached context so a client disconnect
// never loses an already-scheduled record, and a storage failure never
// fails the response.
type Recorder struct {
	store   conversation.Store
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder. timeout bounds each write batch
// (default 10s).
func NewRecorder(store conversation.Store, timeout time.Duration, logger *zap.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger}
}

// Record schedules persistence of the exchange and returns immediately.
// The user message is always written; the assistant message only when
// the response succeeded. The user timestamp never trails the
// assistant's.
func (r *Recorder) Record(req *AIRequest, resp *AIResponse) {
	if r.store == nil || req == nil {
		return
	}

	userMsg := &conversation.Message{
		SessionID: req.SessionID,
		Role:      conversation.RoleUser,
		Content:   req.Message,
		Timestamp: req.Metadata.Timestamp,
	}
	if len(req.RetrievedDocs) > 0 {
		if data, err := jsonx.Marshal(req.RetrievedDocs); err == nil {
			userMsg.RetrievedDocs = data
		}
	}

	var assistantMsg *conversation.Message
	if resp != nil && resp.Success {
		ts := resp.Metadata.Timestamp
		if ts.Before(userMsg.Timestamp) {
			ts = userMsg.Timestamp
		}
		assistantMsg = &conversation.Message{
			SessionID: req.SessionID,
			Role:      conversation.RoleAssistant,
			Content:   resp.Message,
			Timestamp: ts,
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.AppendMessage(ctx, userMsg); err != nil {
			r.logger.Error("Failed to record user message",
				zap.String("session_id", req.SessionID), zap.Error(err))
			return
		}
		if assistantMsg == nil {
			return
		}
		if err := r.store.AppendMessage(ctx, assistantMsg); err != nil {
			r.logger.Error("Failed to record assistant message",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}()
}

// Flush blocks until all scheduled writes finish. Used at shutdown and
// in tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}
