// Package server exposes a suffix index and its node store over HTTP.
//
// Index routes:
//
//	POST /records              {"id":1,"text":"hello"}       insert
//	POST /records/delete       {"id":1,"text":"hello"}       delete
//	PUT  /records/{id}         {"old":"hello","new":"help"}  update
//	GET  /query?pattern=el&n=10                              {"results":[1]}
//	GET  /length                                             {"length":6}
//	GET  /last-row                                           {"lastRow":41}
//	PUT  /last-row             {"row":42}                    set sync cursor
//
// Node store routes, used by httpstore.Client:
//
//	GET    /nodes/{id}
//	PUT    /nodes/{id}
//	DELETE /nodes/{id}
//	POST   /nodes/ids                                        {"id":42}
//
// GET /healthz answers {"implemented":true} while the node store is reachable.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wizenheimer/sufdex"
)

const (
	DefaultResults = 10
	MaxResults     = 1000
)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	DefaultResults int
	MaxResults     int
	Logger         *slog.Logger
	Registry       *prometheus.Registry
}

// Server routes HTTP requests to a SuffixArray and a NodeStore.
// Either may be nil, in which case its routes are not mounted.
type Server struct {
	index   *sufdex.SuffixArray
	store   sufdex.NodeStore
	router  *mux.Router
	metrics *Metrics
	logger  *slog.Logger
	opts    Options
}

func New(index *sufdex.SuffixArray, store sufdex.NodeStore, opts Options) *Server {
	if opts.DefaultResults <= 0 {
		opts.DefaultResults = DefaultResults
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = MaxResults
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		index:   index,
		store:   store,
		router:  mux.NewRouter(),
		metrics: NewMetrics(opts.Registry),
		logger:  opts.Logger,
		opts:    opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.index != nil {
		s.router.HandleFunc("/records", s.handleInsert).Methods(http.MethodPost)
		s.router.HandleFunc("/records/delete", s.handleDelete).Methods(http.MethodPost)
		s.router.HandleFunc("/records/{id:[0-9]+}", s.handleUpdate).Methods(http.MethodPut)
		s.router.HandleFunc("/query", s.handleQuery).Methods(http.MethodGet)
		s.router.HandleFunc("/length", s.handleLength).Methods(http.MethodGet)
		s.router.HandleFunc("/last-row", s.handleGetLastRow).Methods(http.MethodGet)
		s.router.HandleFunc("/last-row", s.handleSetLastRow).Methods(http.MethodPut)
	}
	if s.store != nil {
		s.router.HandleFunc("/nodes/ids", s.handleNextID).Methods(http.MethodPost)
		s.router.HandleFunc("/nodes/{id}", s.handleGetNode).Methods(http.MethodGet)
		s.router.HandleFunc("/nodes/{id}", s.handleSetNode).Methods(http.MethodPut)
		s.router.HandleFunc("/nodes/{id}", s.handleRemoveNode).Methods(http.MethodDelete)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ═══════════════════════════════════════════════════════════════════════════════
// INDEX HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var rec sufdex.Record
	if !s.decode(w, r, &rec) {
		return
	}
	start := time.Now()
	err := s.index.InsertRecord(r.Context(), rec)
	s.metrics.observe("insert_record", start, err)
	s.reply(w, err, http.StatusNoContent, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var rec sufdex.Record
	if !s.decode(w, r, &rec) {
		return
	}
	start := time.Now()
	err := s.index.DeleteRecord(r.Context(), rec)
	s.metrics.observe("delete_record", start, err)
	s.reply(w, err, http.StatusNoContent, nil)
}

type updateRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	row, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("row id: %w", err))
		return
	}
	var req updateRequest
	if !s.decode(w, r, &req) {
		return
	}
	start := time.Now()
	err = s.index.UpdateRecord(r.Context(),
		sufdex.Record{ID: sufdex.RowID(row), Text: req.Old},
		sufdex.Record{ID: sufdex.RowID(row), Text: req.New})
	s.metrics.observe("update_record", start, err)
	s.reply(w, err, http.StatusNoContent, nil)
}

type queryResponse struct {
	Results []sufdex.RowID `json:"results"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := s.opts.DefaultResults
	if raw := q.Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("n: %w", err))
			return
		}
		n = parsed
	}
	if n > s.opts.MaxResults {
		n = s.opts.MaxResults
	}

	start := time.Now()
	rows, err := s.index.Query(r.Context(), q.Get("pattern"), n)
	s.metrics.observe("query", start, err)
	s.reply(w, err, http.StatusOK, queryResponse{Results: rows})
}

func (s *Server) handleLength(w http.ResponseWriter, r *http.Request) {
	s.reply(w, nil, http.StatusOK, map[string]int{"length": s.index.Len()})
}

type lastRowResponse struct {
	LastRow *sufdex.RowID `json:"lastRow"`
}

type lastRowRequest struct {
	Row *sufdex.RowID `json:"row"`
}

func (s *Server) handleGetLastRow(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	row, ok, err := s.index.LastRow(r.Context())
	s.metrics.observe("get_last_row", start, err)

	var resp lastRowResponse
	if ok {
		resp.LastRow = &row
	}
	s.reply(w, err, http.StatusOK, resp)
}

func (s *Server) handleSetLastRow(w http.ResponseWriter, r *http.Request) {
	var req lastRowRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Row == nil {
		s.fail(w, http.StatusBadRequest, errors.New("row is required"))
		return
	}
	start := time.Now()
	err := s.index.SetLastRow(r.Context(), *req.Row)
	s.metrics.observe("set_last_row", start, err)
	s.reply(w, err, http.StatusNoContent, nil)
}

// handleHealth reads HEAD to prove the store answers. A store without a HEAD
// (a bare node store) is still healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if _, err := s.store.GetNode(r.Context(), sufdex.Head); err != nil && !errors.Is(err, sufdex.ErrNodeNotFound) {
			s.fail(w, http.StatusServiceUnavailable, fmt.Errorf("node store: %w", err))
			return
		}
	}
	s.reply(w, nil, http.StatusOK, map[string]bool{"implemented": true})
}

// ═══════════════════════════════════════════════════════════════════════════════
// NODE STORE HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Server) nodeID(w http.ResponseWriter, r *http.Request) (sufdex.NodeID, bool) {
	id, err := sufdex.ParseNodeID(mux.Vars(r)["id"])
	if err == nil && id.IsNone() {
		err = fmt.Errorf("%w: none", sufdex.ErrInvalidNodeID)
	}
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return sufdex.NoNode, false
	}
	return id, true
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}
	start := time.Now()
	node, err := s.store.GetNode(r.Context(), id)
	s.metrics.observe("get_node", start, err)
	s.replyNode(w, err, http.StatusOK, node)
}

func (s *Server) handleSetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}
	var node sufdex.Node
	if !s.decode(w, r, &node) {
		return
	}
	if node.ID != id {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("node id %s does not match path %s", node.ID, id))
		return
	}
	start := time.Now()
	err := s.store.SetNode(r.Context(), &node)
	s.metrics.observe("set_node", start, err)
	s.replyNode(w, err, http.StatusNoContent, nil)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.nodeID(w, r)
	if !ok {
		return
	}
	remover, ok := s.store.(sufdex.NodeRemover)
	if !ok {
		s.fail(w, http.StatusMethodNotAllowed, errors.New("store does not remove nodes"))
		return
	}
	start := time.Now()
	err := remover.RemoveNode(r.Context(), id)
	s.metrics.observe("remove_node", start, err)
	s.replyNode(w, err, http.StatusNoContent, nil)
}

type idResponse struct {
	ID sufdex.NodeID `json:"id"`
}

func (s *Server) handleNextID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, err := s.store.NextID(r.Context())
	s.metrics.observe("next_id", start, err)
	s.reply(w, err, http.StatusOK, idResponse{ID: id})
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

// reply writes body with status, or maps err onto an error response.
func (s *Server) reply(w http.ResponseWriter, err error, status int, body any) {
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("write response", slog.Any("error", err))
	}
}

// replyNode is reply for the node routes, where a missing node is the
// resource the client asked for.
func (s *Server) replyNode(w http.ResponseWriter, err error, status int, body any) {
	if errors.Is(err, sufdex.ErrNodeNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	s.reply(w, err, status, body)
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorResponse{Error: err.Error()}); encErr != nil {
		s.logger.Warn("write error response", slog.Any("error", encErr))
	}
}

// statusFor maps index errors. A missing node here means the store lost part
// of the index, which is a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sufdex.ErrChainBroken):
		return http.StatusConflict
	case errors.Is(err, sufdex.ErrInvalidLimit),
		errors.Is(err, sufdex.ErrRowMismatch),
		errors.Is(err, sufdex.ErrInvalidNodeID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
