// Package api serves the read-only query surface dashboards use: the list
// of measurement kinds and the live state of the cache.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pigeon9001/pigeon/internal/actuator"
	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/httputil"
	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/version"
	"github.com/pigeon9001/pigeon/internal/wire"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Snapshotter supplies the live state. *cache.LiveState satisfies it.
type Snapshotter interface {
	Snapshot() cache.Snapshot
}

// ValveReporter reports the last valve levels written. *actuator.Valves
// satisfies it.
type ValveReporter interface {
	Levels() (boost, brake actuator.Level, ok bool)
}

// AdminRouter mounts debug routes. *bus.Hub satisfies it.
type AdminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

// Server answers dashboard queries.
type Server struct {
	state  Snapshotter
	valves ValveReporter
	admin  AdminRouter
}

// NewServer serves state. valves and admin are optional.
func NewServer(state Snapshotter, valves ValveReporter, admin AdminRouter) *Server {
	return &Server{state: state, valves: valves, admin: admin}
}

// KindInfo describes one measurement kind.
type KindInfo struct {
	Ordinal uint32    `json:"ordinal"`
	Name    wire.Kind `json:"name"`
}

// EntryInfo is one cache entry. Updated is omitted for kinds never received.
type EntryInfo struct {
	Kind     wire.Kind  `json:"kind"`
	Integral int16      `json:"integral"`
	Decimal  float32    `json:"decimal"`
	Updated  *time.Time `json:"updated,omitempty"`
}

// ValveInfo is the last written level of each valve.
type ValveInfo struct {
	Boost string `json:"boost"`
	Brake string `json:"brake"`
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Updates uint64      `json:"updates"`
	Entries []EntryInfo `json:"entries"`
	Valves  *ValveInfo  `json:"valves,omitempty"`
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/kinds", s.listKinds).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.showState).Methods(http.MethodGet)
	r.HandleFunc("/api/state/{kind}", s.showKind).Methods(http.MethodGet)
	// name-only list kept for dashboards built against the first station
	r.HandleFunc("/publisher-types", s.listKindNames).Methods(http.MethodGet)

	if s.admin != nil {
		debug := http.NewServeMux()
		s.admin.AttachAdminRoutes(debug)
		r.PathPrefix("/debug/").Handler(debug)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return LoggingMiddleware(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"updates": s.state.Snapshot().Updates,
	})
}

func (s *Server) listKinds(w http.ResponseWriter, r *http.Request) {
	kinds := wire.Kinds()
	out := make([]KindInfo, len(kinds))
	for i, k := range kinds {
		out[i] = KindInfo{Ordinal: uint32(k), Name: k}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listKindNames(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, wire.Kinds())
}

func entryInfo(k wire.Kind, e cache.Entry) EntryInfo {
	info := EntryInfo{Kind: k, Integral: e.Integral, Decimal: e.Decimal}
	if !e.Updated.IsZero() {
		updated := e.Updated
		info.Updated = &updated
	}
	return info
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	resp := StateResponse{Updates: snap.Updates, Entries: make([]EntryInfo, 0, wire.NumKinds)}
	for _, k := range wire.Kinds() {
		resp.Entries = append(resp.Entries, entryInfo(k, snap.Get(k)))
	}
	if s.valves != nil {
		if boost, brake, ok := s.valves.Levels(); ok {
			resp.Valves = &ValveInfo{Boost: boost.String(), Brake: brake.String()}
		}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showKind(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["kind"]
	k, err := wire.ParseKind(name)
	if err != nil {
		// accept the ordinal as well as the name
		n, convErr := strconv.ParseUint(name, 10, 32)
		if convErr != nil || !wire.Kind(n).Valid() {
			httputil.NotFound(w, err.Error())
			return
		}
		k = wire.Kind(n)
	}
	httputil.WriteJSONOK(w, entryInfo(k, s.state.Snapshot().Get(k)))
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the debug tail stream working through the middleware.
func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
