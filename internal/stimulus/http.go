package stimulus

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/statenet/internal/fsm"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Server serves the stimulus API for one target.
type Server struct {
	target  Target
	logger  *slog.Logger
	metrics http.Handler
}

// HandlerOption configures NewHandler.
type HandlerOption func(*Server)

// WithHandlerLogger sets the logger for request errors.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) HandlerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewHandler creates the HTTP handler for target.
//
//	GET  /health        liveness
//	GET  /nodes         every node's path, state and start count
//	POST /events/text   {"text": "..."}   posts a text event
//	POST /events/tap    {"object": "..."} posts a tap event
//	POST /events/{kind} {"source": "main/a", "payload": ...}
//	GET  /metrics       when WithMetrics is set
//
// Events are accepted with 202 once queued on the timeline, and refused
// with 503 once the run is over.
func NewHandler(target Target, opts ...HandlerOption) http.Handler {
	s := &Server{target: target, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/nodes", s.nodes)
	r.Route("/events", func(r chi.Router) {
		r.Post("/text", s.postText)
		r.Post("/tap", s.postTap)
		r.Post("/{kind}", s.postEvent)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// NodeView is one node in the GET /nodes response.
type NodeView struct {
	Path    string `json:"path"`
	State   string `json:"state"`
	Running bool   `json:"running"`
	Starts  int    `json:"starts"`
}

// Accepted is the response to a queued event.
type Accepted struct {
	Kind   string `json:"kind"`
	Source string `json:"source,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) nodes(w http.ResponseWriter, r *http.Request) {
	var views []NodeView
	err := s.target.Runtime().Do(r.Context(), func() {
		for _, n := range s.target.Graph().Nodes() {
			views = append(views, NodeView{
				Path:    n.Path(),
				State:   n.State().String(),
				Running: n.Running(),
				Starts:  n.Starts(),
			})
		}
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) postText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text *string `json:"text"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Text == nil {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.inject(w, fsm.NewEvent(fsm.KindText, nil, *body.Text))
}

func (s *Server) postTap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Object string `json:"object"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.Object == "" {
		writeError(w, http.StatusBadRequest, "object is required")
		return
	}
	s.inject(w, fsm.NewEvent(fsm.KindTap, nil, body.Object))
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	kind := fsm.Kind(chi.URLParam(r, "kind"))
	var body struct {
		Source  string `json:"source"`
		Payload any    `json:"payload"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	var source *fsm.Node
	if body.Source != "" {
		// The path index is fixed once the graph is built.
		n, ok := s.target.Graph().Lookup(body.Source)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown node "+body.Source)
			return
		}
		source = n
	}
	if kind.IsOutcome() && source == nil {
		writeError(w, http.StatusBadRequest, string(kind)+" events need a source node")
		return
	}
	s.inject(w, fsm.NewEvent(kind, source, body.Payload))
}

func (s *Server) inject(w http.ResponseWriter, ev fsm.Event) {
	if !s.target.Runtime().Inject(ev) {
		s.fail(w, fsm.ErrTimelineClosed)
		return
	}
	resp := Accepted{Kind: string(ev.Kind())}
	if src := ev.Source(); src != nil {
		resp.Source = src.Path()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, fsm.ErrTimelineClosed) {
		writeError(w, http.StatusServiceUnavailable, "run is over")
		return
	}
	s.logger.Error("stimulus request failed", "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
