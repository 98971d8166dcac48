package remote

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Xunop/celestial/internal/log"
	"github.com/Xunop/celestial/internal/model"
)

// Factory builds a Files client bound to a token source.
type Factory func(ctx context.Context, ts oauth2.TokenSource) (Files, error)

// Session holds the remote storage state: whether the feature is enabled and
// the credentials of the connected account.
type Session struct {
	mu      sync.RWMutex
	enabled bool
	token   *oauth2.Token
	files   Files
	conf    *oauth2.Config
	factory Factory
}

type Status struct {
	Enabled       bool      `json:"enabled"`
	Authenticated bool      `json:"authenticated"`
	Expiry        time.Time `json:"expiry,omitempty"`
}

// NewSession returns a disconnected session. A nil conf disables token refresh.
func NewSession(enabled bool, conf *oauth2.Config, factory Factory) *Session {
	return &Session{enabled: enabled, conf: conf, factory: factory}
}

// NewOAuthConfig returns the Google client configuration for the drive.file scope.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	if clientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Authenticated reports whether a usable credential is held: an unexpired
// access token, or a refresh token that the token source can exchange.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated()
}

func (s *Session) authenticated() bool {
	if s.token == nil || s.files == nil {
		return false
	}
	return s.token.Valid() || (s.token.RefreshToken != "" && s.conf != nil)
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{Enabled: s.enabled, Authenticated: s.authenticated()}
	if s.token != nil {
		st.Expiry = s.token.Expiry
	}
	return st
}

// Connect stores the credentials and builds the client used by the remote backends.
func (s *Session) Connect(ctx context.Context, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.Wrap(model.ErrAuthorization, "access token is required")
	}
	if s.factory == nil {
		return errors.New("remote storage is not configured")
	}

	var ts oauth2.TokenSource
	if s.conf != nil {
		// The token source must outlive the request that connected it.
		ts = s.conf.TokenSource(context.Background(), token)
	} else {
		ts = oauth2.StaticTokenSource(token)
	}
	files, err := s.factory(ctx, ts)
	if err != nil {
		return errors.Wrap(err, "failed to create remote client")
	}

	s.mu.Lock()
	s.token = token
	s.files = files
	s.mu.Unlock()
	log.Info("Remote storage connected", zap.Time("expiry", token.Expiry))
	return nil
}

// Disconnect forgets the credentials. Later selections fall back to local storage.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.token = nil
	s.files = nil
	s.mu.Unlock()
	log.Info("Remote storage disconnected")
}

// Files returns the remote client when the session is enabled and authenticated.
func (s *Session) Files() (Files, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled || !s.authenticated() {
		return nil, false
	}
	return s.files, true
}

// Invalidate drops an access token the server rejected. A refreshable
// session stays connected so the token source can obtain a new one.
func (s *Session) Invalidate(cause error) {
	if !errors.Is(cause, model.ErrAuthorization) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return
	}
	if s.token.RefreshToken == "" || s.conf == nil {
		s.token = nil
		s.files = nil
		log.Warn("Remote credentials rejected, session disconnected", zap.Error(cause))
	}
}
