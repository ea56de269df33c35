package cookie

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	stateSessionName = "oauth_state"
	stateValueKey    = "state"
	// stateMaxAge はOAuthのstateを保持する期間（秒）。
	stateMaxAge = 600
)

// ErrStateNotFound はstateが保存されていない場合に返される。
var ErrStateNotFound = errors.New("oauth state not found")

// StateStore はOAuthのstateを短期間の署名付きCookieセッションに保存する。
type StateStore struct {
	store *sessions.CookieStore
}

// NewStateStore はStateStoreを生成する。
func NewStateStore(secret string, secure bool) *StateStore {
	store := sessions.NewCookieStore(deriveKey(secret, "state-hash"), deriveKey(secret, "state-block"))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(stateMaxAge)
	return &StateStore{store: store}
}

// Save はstateを保存する。
func (s *StateStore) Save(w http.ResponseWriter, r *http.Request, state string) error {
	// 復号できない古いCookieがあっても新しいセッションとして上書きする
	sess, _ := s.store.Get(r, stateSessionName)
	sess.Values[stateValueKey] = state
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// Consume は保存されたstateを取り出し、Cookieを削除する。
// stateは一度しか使用できない。
func (s *StateStore) Consume(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, err := s.store.Get(r, stateSessionName)
	if err != nil {
		s.clear(w, r, sess)
		return "", fmt.Errorf("%w: %w", ErrStateNotFound, err)
	}

	state, _ := sess.Values[stateValueKey].(string)
	s.clear(w, r, sess)
	if state == "" {
		return "", ErrStateNotFound
	}
	return state, nil
}

func (s *StateStore) clear(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if sess == nil {
		return
	}
	delete(sess.Values, stateValueKey)
	sess.Options.MaxAge = -1
	_ = sess.Save(r, w)
}
