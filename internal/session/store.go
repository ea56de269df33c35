// Package session はサーバーサイドセッションの発行・解決・破棄を提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hitoshi/loginlog/internal/model"
	"github.com/hitoshi/loginlog/internal/repository"
)

// DefaultTTL はセッションの既定の有効期間。
const DefaultTTL = 24 * time.Hour

// tokenBytes はセッショントークンの乱数バイト数。
const tokenBytes = 32

// Store はセッショントークンとIdentityの対応を管理する。
// 有効期限は作成時点から固定で、アクセスによる延長は行わない。
type Store struct {
	repo repository.SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewStore はStoreを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewStore(repo repository.SessionRepository, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		repo: repo,
		ttl:  ttl,
		now:  time.Now,
	}
}

// TTL はセッションの有効期間を返す。
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create は新しいトークンを発行し、Identityと紐付けて保存する。
func (s *Store) Create(ctx context.Context, identity model.Identity) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        token,
		Identity:  identity,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// Resolve はトークンに対応するセッションを返す。
// 存在しない、または期限切れの場合はnilを返す。
// バックエンドの期限判定に加えて、ここでも現在時刻と比較する。
func (s *Store) Resolve(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}

	sess, err := s.repo.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if sess == nil || sess.IsExpired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// Destroy はセッションを破棄する。存在しない場合は何もしない。
func (s *Store) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
