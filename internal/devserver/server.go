// Package devserver is a small backend implementing the credential lifecycle
// endpoints and a few protected resources. It backs the integration tests and
// the devserver command.
package devserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Routes of the protected resources.
const (
	RouteMe       = "/api/me"
	RouteEcho     = "/api/echo"
	RouteDiscover = "/.well-known/openid-configuration"
)

type Server struct {
	router     chi.Router
	signer     *hmacSigner
	tokens     *refreshTokens
	accessTTL  time.Duration
	refreshTTL time.Duration
	rotate     bool
	nowFunc    func() time.Time

	usersLock sync.RWMutex
	users     map[string]string

	refreshHook  func()
	refreshCalls atomic.Int64
	rejected     atomic.Int64
}

type Option func(*Server)

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

// WithNowFunc overrides the clock used to issue and verify tokens.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

// WithoutRotation keeps refresh tokens valid after use and omits them from refresh responses.
func WithoutRotation() Option {
	return func(s *Server) {
		s.rotate = false
	}
}

// WithUser registers a user that can log in.
func WithUser(username, password string) Option {
	return func(s *Server) {
		s.users[username] = password
	}
}

// WithRefreshHook runs hook at the start of every refresh request.
func WithRefreshHook(hook func()) Option {
	return func(s *Server) {
		s.refreshHook = hook
	}
}

func New(secret string, options ...Option) *Server {
	s := &Server{
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		rotate:     true,
		nowFunc:    time.Now,
		users:      make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}
	s.signer = newHMACSigner(secret, s.nowFunc)
	s.tokens = newRefreshTokens(s.refreshTTL, s.nowFunc)
	s.initRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RefreshCalls returns how many refresh requests were received.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// Rejected returns how many protected requests were answered with 401.
func (s *Server) Rejected() int64 {
	return s.rejected.Load()
}

// RevokeAll invalidates every refresh token.
func (s *Server) RevokeAll() {
	s.tokens.RevokeAll()
}

// Issue mints a credential for username without a password check.
func (s *Server) Issue(issuerURL, username string) (*authapi.TokenResponse, error) {
	return s.issue(issuerURL, username)
}

func (s *Server) initRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.loggingMiddleware, middleware.Recoverer)

	r.Get(RouteDiscover, s.discoveryHandler)
	r.Post(authapi.LoginPath, s.loginHandler)
	r.Post(authapi.SignupPath, s.signupHandler)
	r.Post(authapi.RefreshPath, s.refreshHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post(authapi.LogoutPath, s.logoutHandler)
		r.Get(RouteMe, s.meHandler)
		r.Post(RouteEcho, s.echoHandler)
	})
	s.router = r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("devserver: request")
		next.ServeHTTP(w, r)
	})
}

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

// requireAuth validates the bearer access token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r)
		if !ok {
			s.rejected.Add(1)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing or malformed Authorization header")
			return
		}
		userID, err := s.signer.Verify(token)
		if err != nil {
			s.rejected.Add(1)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body authapi.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed body")
		return
	}
	s.usersLock.RLock()
	password, ok := s.users[body.Username]
	s.usersLock.RUnlock()
	if !ok || password != body.Password {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Invalid username or password")
		return
	}
	s.writeCredential(w, r, http.StatusOK, body.Username)
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	var body authapi.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Email and password are required")
		return
	}
	s.usersLock.Lock()
	if _, exists := s.users[body.Email]; exists {
		s.usersLock.Unlock()
		writeMessage(w, http.StatusConflict, "Email already registered")
		return
	}
	s.users[body.Email] = body.Password
	s.usersLock.Unlock()
	s.writeCredential(w, r, http.StatusCreated, body.Email)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if s.refreshHook != nil {
		s.refreshHook()
	}
	token, ok := bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_grant", "Missing refresh token")
		return
	}
	userID, err := s.tokens.Use(token, s.rotate)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_grant", err.Error())
		return
	}

	access, err := s.signer.Sign(issuer(r), userID, s.accessTTL)
	if err != nil {
		log.Err(err).Msg("devserver: sign access token")
		writeError(w, http.StatusInternalServerError, "server_error", "Token signing failed")
		return
	}
	expiresIn := int(s.accessTTL / time.Second)
	resp := authapi.TokenResponse{AccessToken: &access, ExpiresIn: &expiresIn}
	if s.rotate {
		refresh, err := s.tokens.Create(userID)
		if err != nil {
			log.Err(err).Msg("devserver: create refresh token")
			writeError(w, http.StatusInternalServerError, "server_error", "Token creation failed")
			return
		}
		resp.RefreshToken = &refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	s.tokens.RevokeUser(userIDFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":  userIDFrom(r.Context()),
		"lang": r.Header.Get(authapi.HeaderLocale),
	})
}

func (s *Server) echoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r.Body)
}

func (s *Server) discoveryHandler(w http.ResponseWriter, r *http.Request) {
	iss := issuer(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                iss,
		"authorization_endpoint":                iss + "/authorize",
		"token_endpoint":                        iss + authapi.RefreshPath,
		"end_session_endpoint":                  iss + authapi.LogoutPath,
		"jwks_uri":                              iss + "/.well-known/jwks.json",
		"id_token_signing_alg_values_supported": []string{"HS256"},
	})
}

func (s *Server) writeCredential(w http.ResponseWriter, r *http.Request, status int, userID string) {
	resp, err := s.issue(issuer(r), userID)
	if err != nil {
		log.Err(err).Msg("devserver: issue credential")
		writeError(w, http.StatusInternalServerError, "server_error", "Token creation failed")
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) issue(iss, userID string) (*authapi.TokenResponse, error) {
	access, err := s.signer.Sign(iss, userID, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.Create(userID)
	if err != nil {
		return nil, err
	}
	expiresIn := int(s.accessTTL / time.Second)
	return &authapi.TokenResponse{AccessToken: &access, RefreshToken: &refresh, ExpiresIn: &expiresIn}, nil
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get(authapi.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func issuer(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("devserver: write response")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
