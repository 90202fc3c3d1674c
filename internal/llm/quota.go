package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"companion/api/internal/scratch"
)

const (
	// QuestionsPerDay is the per-identity budget within one rolling
	// 24-hour window.
	QuestionsPerDay = 10
	quotaWindow     = 24 * time.Hour
	quotaKey        = "llm-rate-limit"
)

// quotaState is the stored counter, kept as a scratch entry scoped to
// the identity ID.
type quotaState struct {
	Count     int   `json:"count"`
	ResetTime int64 `json:"resetTime"` // unix millis
}

// Quota tracks per-identity usage in scratch storage.
type Quota struct {
	store scratch.Store
	now   func() time.Time
}

func NewQuota(store scratch.Store) *Quota {
	return &Quota{store: store, now: time.Now}
}

func (q *Quota) load(ctx context.Context, identityID string) (quotaState, error) {
	raw, ok, err := q.store.Get(ctx, identityID, quotaKey)
	if err != nil {
		return quotaState{}, fmt.Errorf("load quota: %w", err)
	}
	fresh := quotaState{Count: 0, ResetTime: q.now().Add(quotaWindow).UnixMilli()}
	if !ok {
		return fresh, nil
	}
	var state quotaState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// A corrupt counter resets the window rather than locking the
		// identity out.
		return fresh, nil
	}
	if q.now().UnixMilli() > state.ResetTime {
		return fresh, nil
	}
	return state, nil
}

// Consume spends one question from the identity's budget. It returns
// the remaining count, or QuotaExceededError when the budget is gone.
func (q *Quota) Consume(ctx context.Context, identityID string) (int, error) {
	state, err := q.load(ctx, identityID)
	if err != nil {
		return 0, err
	}
	if state.Count >= QuestionsPerDay {
		return 0, &QuotaExceededError{ResetAt: time.UnixMilli(state.ResetTime)}
	}
	state.Count++
	encoded, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode quota: %w", err)
	}
	if err := q.store.Set(ctx, identityID, quotaKey, string(encoded)); err != nil {
		return 0, fmt.Errorf("save quota: %w", err)
	}
	return QuestionsPerDay - state.Count, nil
}

// Remaining reports the unspent budget without consuming.
func (q *Quota) Remaining(ctx context.Context, identityID string) (int, time.Time, error) {
	state, err := q.load(ctx, identityID)
	if err != nil {
		return 0, time.Time{}, err
	}
	remaining := QuestionsPerDay - state.Count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, time.UnixMilli(state.ResetTime), nil
}
