// Package linkapi exposes the account link operations over HTTP. The portal
// frontend calls it server-to-server with a shared API key and forwards the
// acting portal account in a header.
package linkapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lcportal/gamebridge/bridge"
	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/logger"
)

// LinkService is the orchestrator surface the API needs.
type LinkService interface {
	Link(ctx context.Context, req bridge.LinkRequest) (*bridge.LinkResult, error)
	Unlink(ctx context.Context, userID, linkID string) error
	ListLinks(ctx context.Context, userID string) ([]*db.GameAccountLink, error)
}

// ServerDirectory manages game server configurations.
type ServerDirectory interface {
	ListServers(ctx context.Context) ([]*db.GameServer, error)
	GetServer(ctx context.Context, serverID string) (*db.GameServer, error)
	UpsertServer(ctx context.Context, server *db.GameServer) error
	DeleteServer(ctx context.Context, serverID string) error
}

// AuditReader reads back the audit trail for the admin surface.
type AuditReader interface {
	QueryAuditEvents(ctx context.Context, q db.AuditQuery) ([]*db.AuditEvent, error)
}

// HealthChecker reports per-server reachability of the legacy databases.
type HealthChecker interface {
	HealthCheck(ctx context.Context, serverID string) bool
	HealthCheckAll(ctx context.Context) map[string]bool
}

// PoolCloser lets the admin surface drop a connection pool when a server
// configuration is removed or changed.
type PoolCloser interface {
	ClosePool(serverID string)
}

// Authenticator resolves the acting portal account from a request.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts the X-Portal-User header. The API key middleware
// has already established that the caller is the portal frontend, which is
// the only party that may assert user identity.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) UserID(r *http.Request) (string, error) {
	userID := strings.TrimSpace(r.Header.Get("X-Portal-User"))
	if userID == "" {
		return "", bridge.ErrUnauthenticated
	}
	return userID, nil
}

// Server represents the HTTP API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	service      LinkService
	servers      ServerDirectory
	audit        AuditReader
	health       HealthChecker
	pools        PoolCloser
	auth         Authenticator
	server       *http.Server
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr          string
	APIKey        string
	AllowedHosts  []string
	Service       LinkService
	Servers       ServerDirectory
	Audit         AuditReader
	Health        HealthChecker
	Pools         PoolCloser
	Authenticator Authenticator // defaults to HeaderAuthenticator
}

// New creates a new HTTP API server
func New(options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.Service == nil {
		return nil, fmt.Errorf("link service is required")
	}

	auth := options.Authenticator
	if auth == nil {
		auth = HeaderAuthenticator{}
	}

	s := &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		service:      options.Service,
		servers:      options.Servers,
		audit:        options.Audit,
		health:       options.Health,
		pools:        options.Pools,
		auth:         auth,
	}

	return s, nil
}

// Start starts the HTTP API server
func Start(ctx context.Context, options ServerOptions, errChan chan error) {
	server, err := New(options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("HTTP API: Starting server", "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("HTTP API: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP API: Error shutting down server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	game := router.PathPrefix("/api/game").Subrouter()
	game.HandleFunc("/link", s.handleLink).Methods("POST")
	game.HandleFunc("/links", s.handleListLinks).Methods("GET")
	game.HandleFunc("/links/{linkID}", s.handleUnlink).Methods("DELETE")
	game.HandleFunc("/servers", s.handleListServers).Methods("GET")
	game.HandleFunc("/servers/{serverID}/health", s.handleServerHealth).Methods("GET")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/servers", s.handleAdminListServers).Methods("GET")
	admin.HandleFunc("/servers/{serverID}", s.handleAdminUpsertServer).Methods("PUT")
	admin.HandleFunc("/servers/{serverID}", s.handleAdminDeleteServer).Methods("DELETE")
	admin.HandleFunc("/audit", s.handleAdminAudit).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Debug("HTTP API: Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API: Request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			// Check CIDR blocks
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP API: Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeBridgeError maps orchestrator errors onto HTTP statuses. Rate limit
// responses carry the window reset both as a Retry-After header and in the
// body.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	if rle, ok := bridge.IsRateLimited(err); ok {
		retryAfter := int(time.Until(rle.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		s.writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":    "too many link attempts",
			"reset_at": rle.ResetAt.UTC().Format(time.RFC3339),
		})
		return
	}

	switch {
	case errors.Is(err, bridge.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bridge.ErrUnauthenticated), errors.Is(err, bridge.ErrInvalidCredentials):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, bridge.ErrForbidden):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, bridge.ErrServerNotFound), errors.Is(err, bridge.ErrLinkNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bridge.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bridge.ErrUpstreamUnavailable):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Warn("HTTP API: Unexpected error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
