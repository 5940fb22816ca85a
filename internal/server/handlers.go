package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"gitship/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"
)

const (
	MaxPayloadBytes     = 1_000_000 // 1 MB
	RecentAttemptsLimit = 10        // Number of recent attempts to return in status endpoint
)

// HandleWebhook handles push webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "targetName")

	// Validate target name for security
	if err := security.ValidateTargetName(targetName); err != nil {
		s.Logger.Warn("Invalid target name in webhook request", "target", targetName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	// Check if target exists
	tgt, err := s.Registry.Get(targetName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	// Webhook deployments require a configured secret
	if tgt.Secret == "" {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Target has no webhook secret configured"})
		return
	}

	// Check payload size (ContentLength can be -1 if not set, so check for both > 0 and > max)
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	// Check content type
	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	// Check event type
	if r.Header.Get("X-GitHub-Event") != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	// Read payload
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	// Verify signature
	signature := r.Header.Get("X-Hub-Signature-256")
	if !VerifySignature(body, signature, tgt.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	// Parse push event payload
	var event github.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.Logger.Error("Failed to parse push event payload", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	// Check if this is the deployed branch before acquiring the lock,
	// so pushes to other branches are acknowledged immediately
	if !tgt.MatchesRef(event.GetRef()) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}

	// Resolve the spec (loads the credential) before accepting
	spec, err := s.Resolver.Resolve(targetName)
	if err != nil {
		s.Logger.Error("Failed to resolve deployment spec", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Target configuration is invalid"})
		return
	}

	// Try to acquire the deployment lock
	if !s.Orchestrator.Locks.TryLock(targetName) {
		if !s.TestMode {
			s.Reporter.RecordRejected(r.Context(), targetName, tgt.Branch)
		}
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	// Respond immediately to the hook sender to avoid its delivery
	// timeout; the deployment runs asynchronously
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"target":  targetName,
		"commit":  event.GetAfter(),
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.Orchestrator.Locks.Unlock(targetName)
		s.Orchestrator.DeployResolved(context.Background(), spec)
	}()
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	targetNames := s.Registry.List()

	response := map[string]interface{}{
		"status":       "ok",
		"targets":      targetNames,
		"target_count": s.Registry.Count(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles deployment status requests
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "targetName")

	// Validate target name for security
	if err := security.ValidateTargetName(targetName); err != nil {
		s.Logger.Warn("Invalid target name in status request", "target", targetName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target name: %v", err)})
		return
	}

	// Check if target exists
	if _, err := s.Registry.Get(targetName); err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return
	}

	// Check if history is available
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	// Get latest attempt
	latest, err := s.History.LatestAttempt(r.Context(), targetName)
	if err != nil {
		s.Logger.Error("Failed to get latest attempt", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	// Get recent attempts
	recent, err := s.History.AttemptHistory(r.Context(), targetName, RecentAttemptsLimit)
	if err != nil {
		s.Logger.Error("Failed to get attempt history", "error", err, "target", targetName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	// Step output stays server-side unless explicitly enabled
	if latest != nil && !s.ExposeOutput {
		for i := range latest.Steps {
			latest.Steps[i].Output = ""
		}
	}

	response := map[string]interface{}{
		"target":          targetName,
		"latest_attempt":  latest,
		"recent_attempts": recent,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
