// Package history はユーザーごとのログイン履歴の記録と参照を提供する。
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/loginlog/internal/model"
	"github.com/hitoshi/loginlog/internal/repository"
)

// MaxRecent は一度に返す履歴の最大件数。
const MaxRecent = 5

// ErrEmptyUserID はユーザーIDが空の場合に返される。
var ErrEmptyUserID = errors.New("user id is required")

// Ledger は追記専用のログイン履歴台帳。
type Ledger struct {
	repo repository.HistoryRepository
}

// NewLedger はLedgerを生成する。
func NewLedger(repo repository.HistoryRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Record はログインイベントを1件追記する。
// 同一ユーザーの同時ログインもそれぞれ別のイベントとして記録される。
func (l *Ledger) Record(ctx context.Context, userID, email string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if _, err := l.repo.Append(ctx, userID, email); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// RecentFor は指定ユーザーの直近のログインイベントを新しい順に返す。
// limitが0以下またはMaxRecentを超える場合はMaxRecentに丸める。
func (l *Ledger) RecentFor(ctx context.Context, userID string, limit int) ([]model.LoginEvent, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	if userID == "" {
		return []model.LoginEvent{}, nil
	}

	events, err := l.repo.ListRecentByUserID(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read login history: %w", err)
	}
	if events == nil {
		events = []model.LoginEvent{}
	}
	return events, nil
}
