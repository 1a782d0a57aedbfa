package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/failover"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/validation"
)

// maxRequestBody bounds mutating request bodies. Node definitions are a few
// hundred bytes; anything bigger is not a node definition.
const maxRequestBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// The daemon is ready once the store answers; a failing store means
	// probes cannot be recorded and decisions cannot be made.
	if _, err := s.deps.Store.ListNodes(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     true,
		"memory_mb": memoryUsageMB(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// handleMeshSnapshot returns the whole mesh in one read: node health from
// the last sweep, the mesh score, and the engine's transition state.
func (s *Server) handleMeshSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]interface{}{
		"engine_state": string(s.deps.Engine.State()),
	}

	if last, ok := s.deps.Aggregator.Last(); ok {
		snapshot["taken_at"] = last.TakenAt
		snapshot["score"] = last.Score
		snapshot["nodes"] = last.Nodes
	} else {
		// No sweep yet; classify bare registry state so the response
		// shape stays the same.
		nodes, err := s.deps.Store.ListNodes(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		policy := s.deps.Aggregator.Policy()
		health := make([]aggregator.NodeHealth, 0, len(nodes))
		for _, n := range nodes {
			health = append(health, aggregator.NodeHealth{
				Node:   n,
				Status: policy.StatusOf(n),
			})
		}
		snapshot["nodes"] = health
	}

	s.respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.deps.Store.ListNodes(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

type createNodeRequest struct {
	Provider string `json:"provider"`
	Region   string `json:"region"`
	Priority *int   `json:"priority"`
	Enabled  *bool  `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	body, err := s.readValidated(r, validation.SchemaCreateNode)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var req createNodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	node := &registry.Node{
		Provider: req.Provider,
		Region:   req.Region,
		Priority: 100,
		Enabled:  true,
		Endpoint: req.Endpoint,
	}
	if req.Priority != nil {
		node.Priority = *req.Priority
	}
	if req.Enabled != nil {
		node.Enabled = *req.Enabled
	}

	if err := s.deps.Store.CreateNode(r.Context(), node); err != nil {
		if errors.Is(err, registry.ErrDuplicateProvider) {
			s.respondError(w, http.StatusConflict, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("node registered",
		zap.String("provider", node.Provider),
		zap.String("endpoint", node.Endpoint))

	// Re-read: the store decides whether this node bootstraps as primary.
	created, err := s.deps.Store.GetNode(r.Context(), node.Provider)
	if err != nil {
		created = node
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	node, err := s.deps.Store.GetNode(r.Context(), provider)
	if err != nil {
		if errors.Is(err, registry.ErrNodeNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	body, err := s.readValidated(r, validation.SchemaSetEnabled)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.deps.Store.SetEnabled(r.Context(), provider, req.Enabled); err != nil {
		switch {
		case errors.Is(err, registry.ErrNodeNotFound):
			s.respondError(w, http.StatusNotFound, err)
		case errors.Is(err, registry.ErrNodeIsPrimary):
			s.respondError(w, http.StatusConflict, err)
		default:
			s.respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	s.logger.Info("node enabled flag changed",
		zap.String("provider", provider),
		zap.Bool("enabled", req.Enabled))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider": provider,
		"enabled":  req.Enabled,
	})
}

// handleTestNode probes one node on demand with the longer manual timeout.
// It reports the raw result and does not touch the registry; only the
// aggregator's sweeps feed failure counters.
func (s *Server) handleTestNode(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	node, err := s.deps.Store.GetNode(r.Context(), provider)
	if err != nil {
		if errors.Is(err, registry.ErrNodeNotFound) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	result := s.deps.Prober.Probe(r.Context(), node)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleManualFailover(w http.ResponseWriter, r *http.Request) {
	body, err := s.readValidated(r, validation.SchemaManualFailover)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		ToProvider string `json:"to_provider"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.deps.Engine.TriggerManualFailover(r.Context(), req.ToProvider)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, failover.ErrUnknownProvider):
			status = http.StatusNotFound
		case errors.Is(err, failover.ErrNodeDisabled),
			errors.Is(err, failover.ErrTargetDown):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, failover.ErrConcurrentTransition):
			status = http.StatusConflict
		}
		s.respondJSON(w, status, map[string]interface{}{
			"error": err.Error(),
			"event": event,
		})
		return
	}

	if event == nil {
		// Target was already primary.
		s.respondJSON(w, http.StatusOK, map[string]string{
			"status": "no-op",
			"detail": "target is already the primary",
		})
		return
	}
	s.respondJSON(w, http.StatusAccepted, event)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Advisor == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"suggestions": []struct{}{},
			"detail":      "advisor not configured",
		})
		return
	}

	var nodes []*registry.Node
	if last, ok := s.deps.Aggregator.Last(); ok {
		nodes = nodesFromEvaluation(last)
	} else {
		var err error
		nodes, err = s.deps.Store.ListNodes(r.Context())
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	suggestions := s.deps.Advisor.Advise(nodes)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

func nodesFromEvaluation(ev aggregator.Evaluation) []*registry.Node {
	nodes := make([]*registry.Node, 0, len(ev.Nodes))
	for i := range ev.Nodes {
		nodes = append(nodes, ev.Nodes[i].Node)
	}
	return nodes
}

// readValidated drains a bounded body and runs it through the named schema.
func (s *Server) readValidated(r *http.Request, schema string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	if err := s.validator.ValidateBody(schema, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode JSON response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", zap.Int("status", status), zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func memoryUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}
