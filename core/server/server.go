// Package server exposes the processing pipeline over HTTP: one POST route
// per operation family, a download route for issued grants, and a websocket
// feed of pipeline events.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snapconvert/snapconvert/core/infra/logging"
	infraMetrics "github.com/snapconvert/snapconvert/core/infra/metrics"
	"github.com/snapconvert/snapconvert/core/pipeline"
	"github.com/snapconvert/snapconvert/core/registry"
)

const (
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
	eventBufferSize       = 256
	clientBufferSize      = 100
)

const (
	envRateLimitRPS   = "API_RATE_LIMIT_RPS"
	envRateLimitBurst = "API_RATE_LIMIT_BURST"
	envAllowedOrigins = "API_ALLOWED_ORIGINS"
)

// event is one pipeline lifecycle notification fanned out to websocket
// subscribers.
type event struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
	Time    time.Time      `json:"time"`
}

// Server mounts the pipeline on an HTTP mux.
type Server struct {
	pipeline *pipeline.Pipeline
	metrics  infraMetrics.GatewayMetrics
	limiter  *tokenBucket
	started  time.Time

	clients   map[*websocket.Conn]chan event
	clientsMu sync.RWMutex
	eventsCh  chan event
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return isAllowedOrigin(r) },
}

// New wires a server to the pipeline and starts the event broadcast loop.
func New(p *pipeline.Pipeline, gm infraMetrics.GatewayMetrics) *Server {
	if gm == nil {
		gm = infraMetrics.Noop{}
	}
	s := &Server{
		pipeline: p,
		metrics:  gm,
		limiter:  newTokenBucketFromEnv(),
		started:  time.Now(),
		clients:  make(map[*websocket.Conn]chan event),
		eventsCh: make(chan event, eventBufferSize),
	}
	p.OnEvent(func(name string, payload map[string]any) {
		select {
		case s.eventsCh <- event{Event: name, Payload: payload, Time: time.Now()}:
		default:
		}
	})
	go s.broadcastLoop()
	return s
}

// Routes builds the public mux. Exposed separately from Start so tests can
// mount it on httptest servers.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"services": map[string]string{
				"pipeline": "ok",
				"grants":   "ok",
			},
			"uptimeSeconds": int(time.Since(s.started).Seconds()),
		})
	})

	mux.HandleFunc("GET /api/v1/operations", s.instrumented("/api/v1/operations", s.handleListOperations))
	mux.HandleFunc("POST /api/{family}/{operation}", s.instrumented("/api/{family}/{operation}", s.rateLimited(s.handleProcess)))
	mux.HandleFunc("GET /download/{grantID}/{fileName}", s.instrumented("/download/{grantID}/{fileName}", s.handleDownload))
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return corsMiddleware(mux)
}

// Start serves the public API on httpAddr and Prometheus metrics on
// metricsAddr. It blocks until the public listener fails.
func (s *Server) Start(httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	go func() {
		srv := &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logging.Info("server", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("server", "metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    httpAddr,
		Handler: s.Routes(),
		// Uploads can be large and slow; the per-operation execution
		// timeout bounds processing, not the read.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	logging.Info("server", "listening", "addr", httpAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	operationID := r.PathValue("family") + "." + r.PathValue("operation")

	result, err := s.pipeline.Handle(r.Context(), operationID, r)
	if err != nil {
		s.writeError(w, operationID, err)
		return
	}

	resp := map[string]any{"success": true}
	if result.Grant != nil {
		g := result.Grant
		resp["downloadUrl"] = fmt.Sprintf("/download/%s/%s", g.ID, url.PathEscape(g.FileName))
		resp["fileName"] = g.FileName
		resp["expiresIn"] = int(time.Until(g.ExpiresAt).Round(time.Second).Seconds())
		resp["processed"] = result.Processed
		if result.Skipped > 0 {
			resp["skipped"] = result.Skipped
		}
		// Operation-specific stats become top-level fields alongside
		// the link, e.g. the merged page count.
		for k, v := range result.Stats {
			resp[k] = v
		}
	} else {
		resp["statistics"] = result.Stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID            string   `json:"id"`
		Family        string   `json:"family"`
		Arity         string   `json:"arity"`
		MinInputs     int      `json:"minInputs,omitempty"`
		AcceptedTypes []string `json:"acceptedTypes,omitempty"`
		MaxInputBytes int64    `json:"maxInputBytes,omitempty"`
		Compute       bool     `json:"compute"`
	}
	limits := s.pipeline.Limits()
	specs := s.pipeline.Registry().List()
	out := make([]entry, 0, len(specs))
	for _, spec := range specs {
		out = append(out, entry{
			ID:            spec.ID,
			Family:        spec.Family,
			Arity:         spec.Arity.String(),
			MinInputs:     spec.MinInputs,
			AcceptedTypes: spec.AcceptedExts,
			MaxInputBytes: limits.ForFamily(spec.Family).MaxInputBytes,
			Compute:       spec.Kind == registry.Compute,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("server", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("server", "ws connected", "remote", r.RemoteAddr)

	clientCh := make(chan event, clientBufferSize)
	s.clientsMu.Lock()
	s.clients[ws] = clientCh
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
	}()

	for {
		select {
		case evt := <-clientCh:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) broadcastLoop() {
	for evt := range s.eventsCh {
		var slow []*websocket.Conn
		s.clientsMu.RLock()
		for conn, ch := range s.clients {
			select {
			case ch <- evt:
			default:
				slow = append(slow, conn)
			}
		}
		s.clientsMu.RUnlock()

		if len(slow) > 0 {
			s.clientsMu.Lock()
			for _, conn := range slow {
				delete(s.clients, conn)
			}
			s.clientsMu.Unlock()
			for _, conn := range slow {
				_ = conn.Close()
			}
		}
	}
}

// writeError maps pipeline failures onto the response contract: validation
// problems echo their reason with 400, everything else collapses into a
// generic 500 so internal detail never reaches the client.
func (s *Server) writeError(w http.ResponseWriter, operationID string, err error) {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Reason})
		return
	}
	logging.Error("server", "operation failed", "operation", operationID, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": "Failed to " + operationVerb(operationID),
	})
}

// operationVerb renders "pdf.merge" as "merge PDF" for the generic failure
// message.
func operationVerb(operationID string) string {
	family, op, ok := strings.Cut(operationID, ".")
	if !ok {
		return "process " + operationID
	}
	return op + " " + strings.ToUpper(family)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
