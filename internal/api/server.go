package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nexus-im/messenger/internal/auth"
	"github.com/nexus-im/messenger/store"
	"github.com/nexus-im/messenger/store/user"
)

const maxBodyBytes = 1 << 20

type ServerOptions struct {
	Dispatcher  *Dispatcher
	Users       UserStore
	Tokens      TokenService
	DB          Pinger
	Metrics     http.Handler
	AllowOrigin string
	Log         *slog.Logger
}

// Server is the HTTP and websocket face of the chat engine.
type Server struct {
	dispatcher *Dispatcher
	users      UserStore
	tokens     TokenService
	db         Pinger
	log        *slog.Logger
	handler    http.Handler
	ws         *wsHandler
}

func NewServer(opts ServerOptions) *Server {
	s := &Server{
		dispatcher: opts.Dispatcher,
		users:      opts.Users,
		tokens:     opts.Tokens,
		db:         opts.DB,
		log:        opts.Log,
	}
	s.ws = newWSHandler(opts.Dispatcher, opts.AllowOrigin, opts.Log)

	protect := RequireAuth(opts.Tokens)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth", s.handleAuth)
	mux.Handle("GET /api/users", protect(http.HandlerFunc(s.handleListUsers)))

	mux.Handle("POST /api/chats", protect(http.HandlerFunc(s.handleChatAction)))
	mux.Handle("GET /api/chats", protect(http.HandlerFunc(s.handleListChats)))
	mux.Handle("GET /api/chats/{chat_id}/messages", protect(http.HandlerFunc(s.handleListMessages)))
	mux.Handle("GET /api/chats/{chat_id}/members", protect(http.HandlerFunc(s.handleListMembers)))

	mux.Handle("GET /ws", protect(s.ws))

	mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	s.handler = otelhttp.NewHandler(
		Chain(RequestLog(opts.Log), CORS(opts.AllowOrigin))(mux),
		"http.server",
	)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Shutdown closes open websocket sessions.
func (s *Server) Shutdown() {
	s.ws.closeAll()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			writeError(w, store.Unavailable(err))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.log.Warn("health check write error", "error", err)
	}
}

func (s *Server) handleChatAction(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		return
	}
	req, err := Decode(body, caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.dispatch(w, r, caller, req)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	s.dispatch(w, r, caller, ListChats{})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	chatID, err := pathID(r, "chat_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.dispatch(w, r, caller, ListMessages{ChatID: chatID})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	chatID, err := pathID(r, "chat_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.dispatch(w, r, caller, GetChatMembers{ChatID: chatID})
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, caller int64, req Request) {
	result, err := s.dispatcher.Dispatch(r.Context(), caller, req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if req.Action() == ActionCreateChat || req.Action() == ActionSendMessage {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// fail reports errors raised before dispatch.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	loggerFrom(r.Context(), s.log).Warn("rejected request", "error", err)
	writeError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, store.ErrInvalidArgument)
	}
	return id, nil
}

type authRequest struct {
	Action    string  `json:"action" validate:"required,oneof=register login update_profile"`
	Email     string  `json:"email" validate:"required_if=Action register,required_if=Action login,omitempty,email"`
	Password  string  `json:"password" validate:"required_if=Action register,required_if=Action login,omitempty,min=6,max=72"`
	Username  string  `json:"username" validate:"required_if=Action register,required_if=Action update_profile,omitempty,max=64"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

type authResponse struct {
	User      *user.User `json:"user"`
	Token     string     `json:"token,omitempty"`
	ExpiresIn int        `json:"expires_in,omitempty"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", store.ErrInvalidArgument, err))
		return
	}

	var (
		resp *authResponse
		err  error
	)
	switch req.Action {
	case "register":
		resp, err = s.register(r.Context(), req)
	case "login":
		resp, err = s.login(r.Context(), req)
	case "update_profile":
		resp, err = s.updateProfile(r, req)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) register(ctx context.Context, req authRequest) (*authResponse, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, req.Email, req.Username, hash)
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

func (s *Server) login(ctx context.Context, req authRequest) (*authResponse, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
		}
		return nil, err
	}
	if err := auth.ComparePassword(u.PasswordHash, req.Password); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.issue(u)
}

func (s *Server) updateProfile(r *http.Request, req authRequest) (*authResponse, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	u, err := s.users.UpdateProfile(r.Context(), claims.UserID, req.Username, req.AvatarURL)
	if err != nil {
		return nil, err
	}
	return &authResponse{User: u}, nil
}

func (s *Server) issue(u *user.User) (*authResponse, error) {
	token, err := s.tokens.GenerateToken(u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &authResponse{User: u, Token: token, ExpiresIn: int(s.tokens.Validity().Seconds())}, nil
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}
