package repository

import (
	"context"
	"time"

	"github.com/hitoshi/loginlog/internal/model"
	"github.com/jellydator/ttlcache/v3"
)

// MemorySessionRepo はttlcacheを使用したインメモリのセッションリポジトリ。
// 単一プロセスでの開発・検証用。プロセス再起動でセッションは失われる。
type MemorySessionRepo struct {
	cache *ttlcache.Cache[string, model.Session]
}

// NewMemorySessionRepo はMemorySessionRepoを生成し、期限切れエントリの自動削除を開始する。
// 不要になったらStopを呼ぶこと。
func NewMemorySessionRepo() *MemorySessionRepo {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, model.Session](),
	)
	go cache.Start()

	return &MemorySessionRepo{cache: cache}
}

// Stop は期限切れエントリの自動削除を停止する。
func (r *MemorySessionRepo) Stop() {
	r.cache.Stop()
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(_ context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		// 期限切れのセッションは保存しても参照されない
		return nil
	}
	r.cache.Set(session.ID, *session, ttl)
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, nil
	}

	session := item.Value()
	if session.IsExpired(time.Now()) {
		return nil, nil
	}
	return &session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}

// Len は保持しているセッション数を返す。テスト用。
func (r *MemorySessionRepo) Len() int {
	return r.cache.Len()
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
