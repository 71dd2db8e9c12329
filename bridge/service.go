// Package bridge implements the account link orchestrator: the end-to-end
// operation that lets a portal account prove ownership of a legacy game
// account.
//
// A link attempt is a short, linear chain with early-exit failure branches:
// rate check, server resolution, duplicate check, legacy row fetch,
// credential verification, link creation. The rate check always completes
// before any legacy connection pool is touched, so a flooding caller cannot
// exhaust the small pool budget of a legacy server. Every terminal outcome
// past the rate check emits exactly one audit event with a redacted
// metadata payload.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lcportal/gamebridge/config"
	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/legacydb"
	"github.com/lcportal/gamebridge/legacyhash"
	"github.com/lcportal/gamebridge/logger"
	"github.com/lcportal/gamebridge/pkg/metrics"
	"github.com/lcportal/gamebridge/ratelimit"
)

// LinkStore persists account links. The store's unique constraint on
// (server, legacy username) is the authoritative duplicate check.
type LinkStore interface {
	CreateLink(ctx context.Context, link *db.GameAccountLink) error
	GetLinkByID(ctx context.Context, linkID string) (*db.GameAccountLink, error)
	GetLinkByServerUsername(ctx context.Context, serverID, legacyUsername string) (*db.GameAccountLink, error)
	ListLinksByUser(ctx context.Context, userID string) ([]*db.GameAccountLink, error)
	DeleteLink(ctx context.Context, linkID string) error
}

// ServerStore resolves game server configurations.
type ServerStore interface {
	GetServer(ctx context.Context, serverID string) (*db.GameServer, error)
}

// LegacyConnector provides read-only access to legacy game databases.
type LegacyConnector interface {
	GetOrCreatePool(ctx context.Context, server config.LegacyServerConfig) (*legacydb.Entry, error)
	FetchUser(ctx context.Context, serverID, username string) (*legacydb.LegacyUserRecord, error)
}

// RateLimiter bounds link attempts per actor.
type RateLimiter interface {
	Check(ctx context.Context, identifier string, cfg ratelimit.Config) ratelimit.Result
}

// Service is the account link orchestrator.
type Service struct {
	links        LinkStore
	servers      ServerStore
	legacy       LegacyConnector
	limiter      RateLimiter
	audit        AuditSink
	rateCfg      ratelimit.Config
	queryTimeout time.Duration
	now          func() time.Time
}

// ServiceOptions wires the orchestrator's collaborators.
type ServiceOptions struct {
	Links        LinkStore
	Servers      ServerStore
	Legacy       LegacyConnector
	Limiter      RateLimiter
	Audit        AuditSink
	RateConfig   ratelimit.Config
	QueryTimeout time.Duration // bound on each legacy database round trip
}

// NewService creates the orchestrator.
func NewService(opts ServiceOptions) *Service {
	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	rateCfg := opts.RateConfig
	if rateCfg.Window <= 0 {
		rateCfg.Window = 10 * time.Minute
	}
	if rateCfg.MaxRequests <= 0 {
		rateCfg.MaxRequests = 3
	}
	return &Service{
		links:        opts.Links,
		servers:      opts.Servers,
		legacy:       opts.Legacy,
		limiter:      opts.Limiter,
		audit:        opts.Audit,
		rateCfg:      rateCfg,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
}

// LinkRequest carries one link attempt.
type LinkRequest struct {
	UserID         string
	ServerID       string
	LegacyUsername string
	Password       string
}

// LinkResult is the successful outcome of a link attempt.
type LinkResult struct {
	Link      *db.GameAccountLink
	Server    *db.GameServer
	Algorithm legacyhash.Algorithm
}

func rateLimitIdentifier(userID string) string {
	return "game-link:" + userID
}

// Link runs one link attempt end to end.
func (s *Service) Link(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	if req.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if req.ServerID == "" || req.LegacyUsername == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: server id, legacy username and password are required", ErrValidation)
	}

	// The rate check must complete, and allow, before any pool is touched.
	rl := s.limiter.Check(ctx, rateLimitIdentifier(req.UserID), s.rateCfg)
	if !rl.Allowed {
		s.audit.Record(ctx, AuditEvent{
			ActorID: req.UserID,
			Action:  ActionRateLimited,
			Target:  rateLimitIdentifier(req.UserID),
			Metadata: map[string]any{
				"reset_at": rl.ResetAt,
			},
		})
		metrics.LinkAttemptsTotal.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitError{ResetAt: rl.ResetAt}
	}

	server, err := s.servers.GetServer(ctx, req.ServerID)
	if err != nil {
		if errors.Is(err, db.ErrServerNotFound) {
			s.auditFailure(ctx, req, "server_not_found")
			metrics.LinkAttemptsTotal.WithLabelValues("server_not_found").Inc()
			return nil, ErrServerNotFound
		}
		s.auditFailure(ctx, req, "internal_error")
		metrics.LinkAttemptsTotal.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("%w: resolving server: %v", ErrInternal, err)
	}

	// Duplicate pre-check. The store's unique constraint remains the
	// authority; this just avoids a pointless legacy round trip and a
	// wasted verification in the common case.
	if _, err := s.links.GetLinkByServerUsername(ctx, req.ServerID, req.LegacyUsername); err == nil {
		s.auditFailure(ctx, req, "duplicate_link")
		metrics.LinkAttemptsTotal.WithLabelValues("conflict").Inc()
		return nil, ErrConflict
	} else if !errors.Is(err, db.ErrLinkNotFound) {
		s.auditFailure(ctx, req, "internal_error")
		metrics.LinkAttemptsTotal.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("%w: checking existing link: %v", ErrInternal, err)
	}

	if _, err := s.legacy.GetOrCreatePool(ctx, server.ToLegacyConfig()); err != nil {
		s.auditFailure(ctx, req, "pool_unavailable")
		metrics.LinkAttemptsTotal.WithLabelValues("upstream_unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	record, err := s.legacy.FetchUser(fetchCtx, req.ServerID, req.LegacyUsername)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, legacydb.ErrUserNotFound):
			// Flattened for the caller; the audit trail keeps the truth.
			s.auditFailure(ctx, req, "user_not_found")
			metrics.LinkAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		case errors.Is(err, legacydb.ErrSecurityViolation):
			// A guard trip is a defect in this codebase, not user input.
			logger.Error("read-only guard tripped during link attempt",
				"server_id", req.ServerID, "error", err)
			s.auditFailure(ctx, req, "security_violation")
			metrics.LinkAttemptsTotal.WithLabelValues("internal").Inc()
			return nil, err
		default:
			s.auditFailure(ctx, req, "legacy_query_failed")
			metrics.LinkAttemptsTotal.WithLabelValues("upstream_unavailable").Inc()
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}

	if !record.Activated {
		s.auditFailure(ctx, req, "account_inactive")
		metrics.LinkAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	result := legacyhash.DetectAndVerify(req.LegacyUsername, req.Password, record.PasswordHash)
	if !result.Matched {
		s.auditFailure(ctx, req, "invalid_password")
		metrics.LinkAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if result.Algorithm == legacyhash.AlgorithmPlaintext {
		// Unmigrated account storing the password in the clear; the
		// algorithm tag on the link record is the hook for a forced
		// upgrade policy.
		logger.Warn("legacy account verified against plaintext stored credential",
			"server_id", req.ServerID, "legacy_username", req.LegacyUsername)
	}

	now := s.now()
	link := &db.GameAccountLink{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		ServerID:       req.ServerID,
		LegacyUsername: req.LegacyUsername,
		Algorithm:      result.Algorithm.String(),
		VerifiedAt:     now,
		LastCheckAt:    now,
	}

	if err := s.links.CreateLink(ctx, link); err != nil {
		if errors.Is(err, db.ErrDuplicateLink) {
			// A concurrent attempt won the race; the store's constraint
			// is the authority and this resolves to the same Conflict.
			s.auditFailure(ctx, req, "duplicate_link")
			metrics.LinkAttemptsTotal.WithLabelValues("conflict").Inc()
			return nil, ErrConflict
		}
		s.auditFailure(ctx, req, "internal_error")
		metrics.LinkAttemptsTotal.WithLabelValues("internal").Inc()
		return nil, fmt.Errorf("%w: creating link: %v", ErrInternal, err)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID: req.UserID,
		Action:  ActionLinkAccount,
		Target:  req.LegacyUsername,
		Metadata: map[string]any{
			"server_id":   req.ServerID,
			"server_name": server.Name,
			"legacy_algo": result.Algorithm.String(),
		},
	})
	metrics.LinkAttemptsTotal.WithLabelValues("success").Inc()

	return &LinkResult{Link: link, Server: server, Algorithm: result.Algorithm}, nil
}

// auditFailure records a failed link attempt with its precise reason.
func (s *Service) auditFailure(ctx context.Context, req LinkRequest, reason string) {
	s.audit.Record(ctx, AuditEvent{
		ActorID: req.UserID,
		Action:  ActionInvalidAttempt,
		Target:  "game-link:" + req.LegacyUsername,
		Metadata: map[string]any{
			"reason":    reason,
			"server_id": req.ServerID,
		},
	})
}

// Unlink removes an account link. Only the owning portal account may do so.
func (s *Service) Unlink(ctx context.Context, userID, linkID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if linkID == "" {
		return fmt.Errorf("%w: link id is required", ErrValidation)
	}

	link, err := s.links.GetLinkByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, db.ErrLinkNotFound) {
			metrics.UnlinkTotal.WithLabelValues("not_found").Inc()
			return ErrLinkNotFound
		}
		metrics.UnlinkTotal.WithLabelValues("internal").Inc()
		return fmt.Errorf("%w: fetching link: %v", ErrInternal, err)
	}

	if link.UserID != userID {
		s.audit.Record(ctx, AuditEvent{
			ActorID: userID,
			Action:  ActionInvalidAttempt,
			Target:  link.LegacyUsername,
			Metadata: map[string]any{
				"reason":  "unlink_ownership_violation",
				"link_id": linkID,
			},
		})
		metrics.UnlinkTotal.WithLabelValues("forbidden").Inc()
		return ErrForbidden
	}

	if err := s.links.DeleteLink(ctx, linkID); err != nil {
		if errors.Is(err, db.ErrLinkNotFound) {
			metrics.UnlinkTotal.WithLabelValues("not_found").Inc()
			return ErrLinkNotFound
		}
		metrics.UnlinkTotal.WithLabelValues("internal").Inc()
		return fmt.Errorf("%w: deleting link: %v", ErrInternal, err)
	}

	s.audit.Record(ctx, AuditEvent{
		ActorID: userID,
		Action:  ActionUnlinkAccount,
		Target:  link.LegacyUsername,
		Metadata: map[string]any{
			"server_id": link.ServerID,
			"link_id":   linkID,
		},
	})
	metrics.UnlinkTotal.WithLabelValues("success").Inc()

	return nil
}

// ListLinks returns the caller's account links.
func (s *Service) ListLinks(ctx context.Context, userID string) ([]*db.GameAccountLink, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	links, err := s.links.ListLinksByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing links: %v", ErrInternal, err)
	}
	return links, nil
}
