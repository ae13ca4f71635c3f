package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/thinkxlife/brain/internal/conversation"
	"github.com/thinkxlife/brain/internal/jsonx"
)

// HistoryStore fronts a conversation store with the tiered cache. Only
// lookups at the configured history length are cached; appends
// invalidate the session's entry so readers never see stale history.
type HistoryStore struct {
	store  conversation.Store
	cache  *Tiered
	limit  int
	logger *zap.Logger
}

// NewHistoryStore wraps store. limit is the history length served from
// cache; it should match the length the request pipeline asks for.
func NewHistoryStore(store conversation.Store, cache *Tiered, limit int, logger *zap.Logger) *HistoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		store:  store,
		cache:  cache,
		limit:  limit,
		logger: logger,
	}
}

func historyKey(sessionID string) string {
	return "history:" + sessionID
}

// AppendMessage writes through to the store and drops the cached
// history for the session.
func (h *HistoryStore) AppendMessage(ctx context.Context, msg *conversation.Message) error {
	if err := h.store.AppendMessage(ctx, msg); err != nil {
		return err
	}
	h.cache.Delete(ctx, historyKey(msg.SessionID))
	return nil
}

// History serves cached history when the requested limit matches the
// cached length, falling back to the store otherwise.
func (h *HistoryStore) History(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if limit != h.limit {
		return h.store.History(ctx, sessionID, limit)
	}

	key := historyKey(sessionID)
	if data, found := h.cache.Get(ctx, key); found {
		var msgs []conversation.Message
		if err := jsonx.Unmarshal(data, &msgs); err == nil {
			return msgs, nil
		}
		h.cache.Delete(ctx, key)
	}

	msgs, err := h.store.History(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	if data, err := jsonx.Marshal(msgs); err == nil {
		h.cache.Set(ctx, key, data)
	} else {
		h.logger.Warn("Failed to encode history for cache",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return msgs, nil
}

// Ping delegates to the underlying store.
func (h *HistoryStore) Ping(ctx context.Context) error {
	return h.store.Ping(ctx)
}
