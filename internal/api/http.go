// internal/api/http.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Chinzzii/undo-replication-go/internal/cluster"
	"github.com/Chinzzii/undo-replication-go/internal/history"
	"github.com/Chinzzii/undo-replication-go/internal/persist"
	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/Chinzzii/undo-replication-go/internal/repl"
	"github.com/Chinzzii/undo-replication-go/internal/store"

	"github.com/google/uuid" // Used for record and request IDs
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Deps are the role-specific collaborators of a Server.
// A leader needs Store and Replicator; a follower needs Follower and Reader.
type Deps struct {
	Store      *store.Store
	Replicator *repl.Replicator
	Follower   *repl.Follower
	Reader     persist.Reader
}

// Server holds all dependencies for the HTTP API.
type Server struct {
	cfg  *cluster.NodeConfig // This node's configuration
	deps Deps
	log  *log.Logger
}

// SaveRequest is the JSON body for a client's save request.
// An empty ID creates a new record.
type SaveRequest struct {
	ID     string            `json:"id,omitempty"`
	Fields map[string]string `json:"fields"`
}

// RecordResponse is the JSON response to a successful save or delete.
type RecordResponse struct {
	Status string        `json:"status"` // "ok"
	Record record.Record `json:"record"`
	ReqID  string        `json:"req_id"` // Unique ID for this request
}

// HistoryResponse is the JSON response to undo and redo.
type HistoryResponse struct {
	Status string `json:"status"`
	Undo   int    `json:"undo"` // remaining undo steps
	Redo   int    `json:"redo"` // remaining redo steps
	ReqID  string `json:"req_id"`
}

// Status is the JSON response for the /status endpoint.
type Status struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Mode    string          `json:"mode"`
	Port    int             `json:"port"`
	Peers   []string        `json:"peers"`
	Records []record.Record `json:"records"`
	Undo    int             `json:"undo"`
	Redo    int             `json:"redo"`
	Blocked map[string]bool `json:"blocked"` // peers with replication suspended
}

// NewServer creates a new API server instance.
func NewServer(cfg *cluster.NodeConfig, deps Deps, logger *log.Logger) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger,
	}
}

// Routes sets up all HTTP handlers for the server.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Client-facing endpoints
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/undo", s.handleUndo) // leader only
	mux.HandleFunc("/redo", s.handleRedo) // leader only

	// Internal cluster endpoint
	mux.HandleFunc("/replicate", s.handleReplicate) // follower only

	// Admin/status endpoints
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/partition", s.handlePartition) // Simulate network partitions

	return mux
}

// --- Client-Facing Handlers ---

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPost, http.MethodPut:
		s.handleSave(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSave creates or replaces a record. Only the leader accepts writes.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !s.requireLeader(w) {
		return
	}

	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var rec record.Record
	if req.ID == "" {
		rec = record.New(req.Fields)
	} else {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid record id")
			return
		}
		rec = record.FromParts(id, req.Fields)
	}

	reqID := uuid.NewString()
	if err := s.deps.Store.Save(r.Context(), rec); err != nil {
		s.respondStoreError(w, reqID, err)
		return
	}
	s.log.Printf("[ReqID %s] saved %s", reqID, rec.ID())
	s.respondJSON(w, http.StatusOK, RecordResponse{Status: "ok", Record: rec, ReqID: reqID})
}

// handleDelete removes a record by ID. Only the leader accepts writes.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireLeader(w) {
		return
	}
	id, ok := s.queryID(w, r)
	if !ok {
		return
	}

	// Delete resolves the ID under the store lock and returns what was live.
	reqID := uuid.NewString()
	removed, err := s.deps.Store.Delete(r.Context(), record.FromParts(id, nil))
	if err != nil {
		s.respondStoreError(w, reqID, err)
		return
	}
	s.log.Printf("[ReqID %s] deleted %s", reqID, id)
	s.respondJSON(w, http.StatusOK, RecordResponse{Status: "ok", Record: removed, ReqID: reqID})
}

// handleGet reads one record (?id=) or lists all of them.
// A leader reads its live collection, a follower its local backend.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") == "" {
		recs, err := s.list(r.Context())
		if err != nil {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, recs)
		return
	}

	id, ok := s.queryID(w, r)
	if !ok {
		return
	}
	var (
		rec   record.Record
		found bool
	)
	if s.cfg.Role == cluster.Leader {
		rec, found = s.deps.Store.Lookup(id)
	} else {
		var err error
		rec, found, err = s.deps.Reader.Get(r.Context(), id)
		if err != nil {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.handleHistory(w, r, "undo", s.deps.Store.Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.handleHistory(w, r, "redo", s.deps.Store.Redo)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, op string, apply func(context.Context) error) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireLeader(w) {
		return
	}

	reqID := uuid.NewString()
	if err := apply(r.Context()); err != nil {
		s.respondStoreError(w, reqID, err)
		return
	}
	undo, redo := s.deps.Store.History()
	s.log.Printf("[ReqID %s] %s ok (undo=%d redo=%d)", reqID, op, undo, redo)
	s.respondJSON(w, http.StatusOK, HistoryResponse{Status: "ok", Undo: undo, Redo: redo, ReqID: reqID})
}

// --- Internal Cluster Handlers ---

// handleReplicate is the endpoint followers expose for the leader.
// It receives a change and applies it to the follower's local backend.
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Followers should not replicate to other nodes.
	if s.cfg.Role == cluster.Leader {
		s.respondError(w, http.StatusForbidden, "leader cannot replicate to itself")
		return
	}

	var req repl.ReplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid replication body")
		return
	}

	// Continue the leader's trace so the follower's persistence spans
	// join it.
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	applied, err := s.deps.Follower.Apply(ctx, req)
	if err != nil {
		if verr := req.Validate(); verr != nil {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if applied {
		s.log.Printf("[ReqID %s] follower applied %s %s", req.ReqID, req.Op, req.ID)
	} else {
		s.log.Printf("[ReqID %s] follower ignored stale %s %s", req.ReqID, req.Op, req.ID)
	}

	s.respondJSON(w, http.StatusOK, repl.ReplicateResponse{Status: "ok", Applied: applied})
}

// --- Admin & Status Handlers ---

// handleStatus returns the current state of the node.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	recs, err := s.list(r.Context())
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := Status{
		ID:      s.cfg.ID,
		Role:    string(s.cfg.Role),
		Mode:    string(s.cfg.Mode),
		Port:    s.cfg.Port,
		Peers:   []string{},
		Records: recs,
		Blocked: map[string]bool{},
	}
	if s.deps.Store != nil {
		status.Undo, status.Redo = s.deps.Store.History()
	}
	if s.deps.Replicator != nil {
		status.Peers = s.deps.Replicator.Peers()
		status.Blocked = s.deps.Replicator.Blocked()
	}

	s.respondJSON(w, http.StatusOK, status)
}

// handlePartition is a testing endpoint to simulate network partitions.
// Usage:
//
//	/partition?block=http://follower1:8081
//	/partition?unblock=http://follower1:8081
func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Replicator == nil {
		s.respondError(w, http.StatusForbidden, "not a leader")
		return
	}

	if blockPeer := r.URL.Query().Get("block"); blockPeer != "" {
		s.deps.Replicator.Block(blockPeer)
	}
	if unblockPeer := r.URL.Query().Get("unblock"); unblockPeer != "" {
		s.deps.Replicator.Unblock(unblockPeer)
	}

	s.respondJSON(w, http.StatusOK, s.deps.Replicator.Blocked())
}

// --- Helper Methods ---

func (s *Server) requireLeader(w http.ResponseWriter) bool {
	if s.cfg.Role != cluster.Leader || s.deps.Store == nil {
		s.respondError(w, http.StatusForbidden, "not a leader")
		return false
	}
	return true
}

func (s *Server) queryID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, "missing id query param")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id query param")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) list(ctx context.Context) ([]record.Record, error) {
	if s.deps.Store != nil {
		return s.deps.Store.Records(), nil
	}
	recs, err := s.deps.Reader.List(ctx)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

// respondStoreError maps store errors onto HTTP statuses.
func (s *Server) respondStoreError(w http.ResponseWriter, reqID string, err error) {
	code := http.StatusServiceUnavailable
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, record.ErrInvalidRecord):
		code = http.StatusBadRequest
	case errors.Is(err, history.ErrInvalidStep):
		code = http.StatusConflict
	}
	s.log.Printf("[ReqID %s] %v", reqID, err)
	s.respondError(w, code, err.Error())
}

// respondJSON is a helper to write a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			// The header is already written; all we can do is log.
			s.log.Printf("ERROR: failed to write json response: %v", err)
		}
	}
}

// respondError is a helper to write a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	// Don't log 404s as server errors.
	if code != http.StatusNotFound {
		s.log.Printf("HTTP %d: %s", code, message)
	}

	type ErrorResponse struct {
		Error string `json:"error"`
	}
	s.respondJSON(w, code, ErrorResponse{Error: message})
}
