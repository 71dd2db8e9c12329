package linkapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lcportal/gamebridge/bridge"
	"github.com/lcportal/gamebridge/db"
	"github.com/lcportal/gamebridge/logger"
)

// Request/Response types

type LinkAccountRequest struct {
	ServerID string `json:"server_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LinkView struct {
	ID             string    `json:"id"`
	ServerID       string    `json:"server_id"`
	LegacyUsername string    `json:"username"`
	Algorithm      string    `json:"algorithm"`
	VerifiedAt     time.Time `json:"verified_at"`
}

type ServerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

type AdminServerRequest struct {
	Name       string `json:"name"`
	Region     string `json:"region"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	ROUser     string `json:"ro_user"`
	ROPassword string `json:"ro_password"`
}

func linkView(link *db.GameAccountLink) LinkView {
	return LinkView{
		ID:             link.ID,
		ServerID:       link.ServerID,
		LegacyUsername: link.LegacyUsername,
		Algorithm:      link.Algorithm,
		VerifiedAt:     link.VerifiedAt,
	}
}

// Handler functions

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	var req LinkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := s.service.Link(r.Context(), bridge.LinkRequest{
		UserID:         userID,
		ServerID:       req.ServerID,
		LegacyUsername: req.Username,
		Password:       req.Password,
	})
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"link": linkView(result.Link),
		"server": ServerView{
			ID:     result.Server.ID,
			Name:   result.Server.Name,
			Region: result.Server.Region,
		},
		"message": "Game account linked successfully",
	})
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	links, err := s.service.ListLinks(r.Context(), userID)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	views := make([]LinkView, 0, len(links))
	for _, link := range links {
		views = append(views, linkView(link))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"links": views,
		"count": len(views),
	})
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}

	linkID := mux.Vars(r)["linkID"]
	if err := s.service.Unlink(r.Context(), userID, linkID); err != nil {
		s.writeBridgeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"link_id": linkID,
		"message": "Game account unlinked successfully",
	})
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		logger.Warn("HTTP API: Error listing servers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list game servers")
		return
	}

	views := make([]ServerView, 0, len(servers))
	for _, server := range servers {
		views = append(views, ServerView{ID: server.ID, Name: server.Name, Region: server.Region})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"servers": views,
		"count":   len(views),
	})
}

func (s *Server) handleServerHealth(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverID"]
	ctx := r.Context()

	if _, err := s.servers.GetServer(ctx, serverID); err != nil {
		if errors.Is(err, db.ErrServerNotFound) {
			s.writeError(w, http.StatusNotFound, "Game server not found")
			return
		}
		logger.Warn("HTTP API: Error resolving server", "server_id", serverID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to resolve game server")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"online":    s.health.HealthCheck(ctx, serverID),
	})
}

// Admin handlers

func (s *Server) handleAdminListServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := s.servers.ListServers(ctx)
	if err != nil {
		logger.Warn("HTTP API: Error listing servers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list game servers")
		return
	}

	health := map[string]bool{}
	if s.health != nil {
		health = s.health.HealthCheckAll(ctx)
	}

	type adminServerView struct {
		ServerView
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Database string `json:"database"`
		Online   bool   `json:"online"`
	}

	views := make([]adminServerView, 0, len(servers))
	for _, server := range servers {
		views = append(views, adminServerView{
			ServerView: ServerView{ID: server.ID, Name: server.Name, Region: server.Region},
			Host:       server.Host,
			Port:       server.Port,
			Database:   server.Database,
			Online:     health[server.ID],
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"servers": views,
		"count":   len(views),
	})
}

func (s *Server) handleAdminUpsertServer(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	serverID := mux.Vars(r)["serverID"]

	var req AdminServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Host == "" || req.Database == "" || req.ROUser == "" {
		s.writeError(w, http.StatusBadRequest, "host, database and ro_user are required")
		return
	}
	if req.Port == 0 {
		req.Port = 5432
	}

	server := &db.GameServer{
		ID:                  serverID,
		Name:                req.Name,
		Region:              req.Region,
		Host:                req.Host,
		Port:                req.Port,
		Database:            req.Database,
		ROUser:              req.ROUser,
		ROPasswordEncrypted: req.ROPassword,
	}

	if err := s.servers.UpsertServer(r.Context(), server); err != nil {
		logger.Warn("HTTP API: Error upserting server", "server_id", serverID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save game server")
		return
	}

	// Any open pool dials the old coordinates; drop it so the next link
	// attempt reconnects with the new ones.
	if s.pools != nil {
		s.pools.ClosePool(serverID)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"message":   "Game server saved successfully",
	})
}

func (s *Server) handleAdminDeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["serverID"]

	if err := s.servers.DeleteServer(r.Context(), serverID); err != nil {
		if errors.Is(err, db.ErrServerNotFound) {
			s.writeError(w, http.StatusNotFound, "Game server not found")
			return
		}
		logger.Warn("HTTP API: Error deleting server", "server_id", serverID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete game server")
		return
	}

	if s.pools != nil {
		s.pools.ClosePool(serverID)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"server_id": serverID,
		"message":   "Game server deleted successfully",
	})
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := db.AuditQuery{
		ActorID: r.URL.Query().Get("actor_id"),
		Action:  r.URL.Query().Get("action"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		q.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid offset parameter")
			return
		}
		q.Offset = offset
	}

	events, err := s.audit.QueryAuditEvents(ctx, q)
	if err != nil {
		logger.Warn("HTTP API: Error querying audit log", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to query audit log")
		return
	}

	type auditView struct {
		ID        int64          `json:"id"`
		ActorID   string         `json:"actor_id,omitempty"`
		Action    string         `json:"action"`
		Target    string         `json:"target"`
		Metadata  map[string]any `json:"metadata,omitempty"`
		CreatedAt time.Time      `json:"created_at"`
	}

	views := make([]auditView, 0, len(events))
	for _, event := range events {
		views = append(views, auditView{
			ID:        event.ID,
			ActorID:   event.ActorID,
			Action:    event.Action,
			Target:    event.Target,
			Metadata:  event.Metadata,
			CreatedAt: event.CreatedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
		"count":  len(views),
	})
}
