package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"libraryhub/internal/ratelimit"
	"libraryhub/internal/servicetoken"
	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/services/circulation/internal/app"
)

const serviceName = "circulation"

// CallerVerifier turns a user access token into the calling identity.
type CallerVerifier interface {
	VerifyCaller(ctx context.Context, token string) (domain.Caller, error)
}

// ServiceVerifier checks an internal service token and returns its issuer.
type ServiceVerifier interface {
	Verify(token string) (string, error)
}

// Config wires the HTTP server. InternalVerifier and Limiter are optional.
type Config struct {
	App                *app.App
	TokenVerifier      CallerVerifier
	InternalVerifier   ServiceVerifier
	Limiter            ratelimit.Limiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the circulation API.
type Server struct {
	app              *app.App
	tokenVerifier    CallerVerifier
	internalVerifier ServiceVerifier
	limiter          ratelimit.Limiter
	trusted          *util.TrustedProxies
	corsOrigins      []string
	router           *httprouter.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("server: app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, fmt.Errorf("server: token verifier required")
	}
	s := &Server{
		app:              cfg.App,
		tokenVerifier:    cfg.TokenVerifier,
		internalVerifier: cfg.InternalVerifier,
		limiter:          cfg.Limiter,
		trusted:          cfg.TrustedProxies,
		corsOrigins:      cfg.CORSAllowedOrigins,
		router:           httprouter.New(),
	}
	s.routes()
	return s, nil
}

// Router returns the handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(serviceName, s.trusted,
			recoverPanic(
				util.WithSecurityHeaders(
					util.WithCORS(s.corsOrigins)(s.router)))))
}

func (s *Server) routes() {
	r := s.router
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "CIRCULATION_ROUTE_NOT_FOUND", "not found")
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "CIRCULATION_METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.HandlerFunc(http.MethodGet, "/healthz", s.handleHealth)

	r.Handler(http.MethodPost, "/api/circulation/issue", s.staffOnly(s.limited(s.handleIssue)))
	r.Handler(http.MethodPost, "/api/circulation/return", s.staffOnly(s.limited(s.handleReturn)))
	r.Handler(http.MethodPost, "/api/circulation/renew", s.withCaller(s.limited(s.handleRenew)))
	r.Handler(http.MethodGet, "/api/circulation/active", s.staffOnly(s.handleActive))
	r.Handler(http.MethodGet, "/api/circulation/overdue", s.staffOnly(s.handleOverdue))
	r.Handler(http.MethodGet, "/api/circulation/history/:memberId", s.withCaller(s.handleHistory))
	r.Handler(http.MethodGet, "/api/circulation/loans/:id", s.withCaller(s.handleGetLoan))
	r.Handler(http.MethodGet, "/api/circulation/loans/:id/events", s.staffOnly(s.handleLoanEvents))
	r.Handler(http.MethodPost, "/api/circulation/reports/overdue", s.staffOnly(s.limited(s.handleOverdueReport)))
	r.Handler(http.MethodGet, "/api/titles/:id", s.withCaller(s.handleGetTitle))

	r.Handler(http.MethodPut, "/internal/titles/:id", s.withInternal(s.handleUpsertTitle))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type callerHandler func(http.ResponseWriter, *http.Request, domain.Caller)

// withCaller authenticates the bearer token and hands the caller to next.
func (s *Server) withCaller(next callerHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		caller, err := s.tokenVerifier.VerifyCaller(r.Context(), token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Debug("access token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("caller_id", caller.ID, "caller_role", caller.Role))
		next(w, r.WithContext(ctx), caller)
	})
}

// staffOnly admits admins and librarians.
func (s *Server) staffOnly(next callerHandler) http.Handler {
	return s.withCaller(func(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
		if !caller.IsStaff() {
			writeForbidden(w)
			return
		}
		next(w, r, caller)
	})
}

// limited applies the per-caller quota to mutations.
func (s *Server) limited(next callerHandler) callerHandler {
	return func(w http.ResponseWriter, r *http.Request, caller domain.Caller) {
		if s.limiter != nil && !s.limiter.Allow(r.Context(), "caller:"+caller.ID) {
			writeError(w, http.StatusTooManyRequests, "CIRCULATION_RATE_LIMITED", "too many requests")
			return
		}
		next(w, r, caller)
	}
}

// withInternal admits calls signed by an allowed catalog service.
func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalVerifier == nil {
			writeError(w, http.StatusNotFound, "CIRCULATION_ROUTE_NOT_FOUND", "not found")
			return
		}
		token, ok := servicetoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_SERVICE_TOKEN", "unauthorized")
			return
		}
		issuer, err := s.internalVerifier.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("service token rejected", "err", err, "client_ip", util.ClientIP(r, s.trusted))
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_SERVICE_TOKEN", "unauthorized")
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("caller_service", issuer))
		next(w, r.WithContext(ctx))
	})
}

func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				util.LoggerFromContext(r.Context()).Error("panic serving request", "panic", fmt.Sprint(rec), "path", r.URL.Path)
				w.Header().Set("Connection", "close")
				writeError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
