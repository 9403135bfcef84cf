package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/types"
)

// State is the per-OAuth-identity state machine of spec.md §4.2:
// Loaded -> Valid -> (ExpiringSoon -> Refreshing -> Valid) | (Expired ->
// Refreshing -> Valid) | RefreshFailed.
type State int

const (
	StateLoaded State = iota
	StateValid
	StateExpiringSoon
	StateExpired
	StateRefreshing
	StateRefreshFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// expirySafetyMargin is how far ahead of actual expiry a token is treated
// as ExpiringSoon and proactively refreshed.
const expirySafetyMargin = 60 * time.Second

// FamilyRefresher performs the provider-family-specific device-code or
// refresh-token flow for one OAuth identity, modeled on the teacher's
// factory.go dispatch-by-name idiom (here dispatching by OAuth family
// instead of by vendor provider).
type FamilyRefresher interface {
	Refresh(ctx context.Context, current *TokenFile, desc config.NormalizedOAuth) (*TokenFile, error)
}

type identityState struct {
	mu    sync.Mutex
	state State
	tok   *TokenFile
}

// Manager owns every OAuth identity's token file and in-memory state. It is
// the exclusive writer during refresh; readers see the previously valid
// token until a refresh commits, per the concurrency model of spec.md §5.
type Manager struct {
	logger     *zap.Logger
	refreshers map[string]FamilyRefresher
	sf         singleflight.Group

	mu     sync.Mutex
	states map[string]*identityState // keyed by token file path
}

func NewManager(logger *zap.Logger, refreshers map[string]FamilyRefresher) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:     logger,
		refreshers: refreshers,
		states:     make(map[string]*identityState),
	}
}

func (m *Manager) stateFor(path string) *identityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[path]
	if !ok {
		st = &identityState{state: StateLoaded}
		m.states[path] = st
	}
	return st
}

// AccessToken returns a currently-usable bearer token for desc, refreshing
// it first if it is expired or expiring soon. Concurrent callers for the
// same token file collapse into a single in-flight refresh via
// singleflight, satisfying the "exactly one refresh, no AuthExpired for the
// other readers" property.
func (m *Manager) AccessToken(ctx context.Context, desc config.NormalizedOAuth) (string, error) {
	st := m.stateFor(desc.TokenFile)

	st.mu.Lock()
	if st.tok == nil {
		tok, err := LoadTokenFile(desc.TokenFile)
		if err != nil {
			st.mu.Unlock()
			return "", types.NewError(types.ErrAuthUnresolved, "oauth token file not loadable").
				WithCause(err).WithStage("auth")
		}
		st.tok = tok
		st.state = StateValid
	}
	tok := st.tok
	priorState := st.state
	state := m.classify(tok)
	st.state = state
	st.mu.Unlock()

	if state == StateValid {
		return tok.AccessToken, nil
	}
	if state == StateExpired && priorState == StateRefreshFailed {
		return "", types.NewError(types.ErrAuthExpired, "oauth token expired and last refresh failed").
			WithStage("auth")
	}

	refreshed, err := m.refresh(ctx, desc, st)
	if err != nil {
		if state == StateExpiringSoon {
			// Stale-but-usable: serve the old token once more rather than
			// failing the request outright (§7 propagation policy).
			m.logger.Warn("oauth refresh failed, serving stale token",
				zap.String("tokenFile", desc.TokenFile), zap.Error(err))
			return tok.AccessToken, nil
		}
		return "", types.NewError(types.ErrAuthExpired, "oauth refresh failed").
			WithCause(err).WithStage("auth")
	}
	return refreshed.AccessToken, nil
}

func (m *Manager) classify(tok *TokenFile) State {
	until := time.Until(tok.ExpiresAt)
	switch {
	case until <= 0:
		return StateExpired
	case until <= expirySafetyMargin:
		return StateExpiringSoon
	default:
		return StateValid
	}
}

// refresh performs the family-specific refresh flow, serialized per token
// file via singleflight so ten concurrent callers against one expired
// token produce exactly one upstream refresh call.
func (m *Manager) refresh(ctx context.Context, desc config.NormalizedOAuth, st *identityState) (*TokenFile, error) {
	v, err, _ := m.sf.Do(desc.TokenFile, func() (any, error) {
		st.mu.Lock()
		st.state = StateRefreshing
		current := st.tok
		st.mu.Unlock()

		refresher, ok := m.refreshers[desc.Family]
		if !ok {
			return nil, fmt.Errorf("no oauth refresher registered for family %q", desc.Family)
		}

		fresh, err := refresher.Refresh(ctx, current, desc)
		if err != nil {
			st.mu.Lock()
			st.state = StateRefreshFailed
			st.mu.Unlock()
			return nil, err
		}

		if err := SaveTokenFile(desc.TokenFile, fresh); err != nil {
			m.logger.Warn("oauth token refreshed but failed to persist",
				zap.String("tokenFile", desc.TokenFile), zap.Error(err))
		}

		st.mu.Lock()
		st.tok = fresh
		st.state = StateValid
		st.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenFile), nil
}
