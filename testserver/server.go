// Package testserver is an in-process stand-in for the cat/dog voting app,
// with fault injection for exercising load tests.
package testserver

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options tune the fake.
type Options struct {
	Environment string
	ClusterType string
	// FailPercent makes that share of app requests answer 500. Failures are
	// spread evenly, so after N requests exactly N*FailPercent/100 failed.
	FailPercent int
	// Latency delays every app request.
	Latency time.Duration
	// NoOnPrem makes /onprem/ answer 404, like a cluster without that route.
	NoOnPrem bool
}

// Server is the voting app fake.
type Server struct {
	mux  *http.ServeMux
	opts Options

	appRequests atomic.Int64

	mu    sync.Mutex
	votes map[string]int
}

// NewServer creates a server with every endpoint registered.
func NewServer(opts Options) *Server {
	if opts.Environment == "" {
		opts.Environment = "development"
	}
	if opts.ClusterType == "" {
		opts.ClusterType = "local"
	}
	s := &Server{
		mux:   http.NewServeMux(),
		opts:  opts,
		votes: map[string]int{"cat": 0, "dog": 0},
	}
	s.registerHandlers()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// AppRequests counts requests that went through fault injection.
func (s *Server) AppRequests() int64 {
	return s.appRequests.Load()
}

func (s *Server) registerHandlers() {
	s.mux.Handle("GET /{$}", s.app(s.handleIndex))
	s.mux.Handle("GET /onprem/", s.app(s.handleOnPrem))
	s.mux.Handle("POST /vote", s.app(s.handleVote))
	s.mux.HandleFunc("GET /results", s.handleResults)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /status/{code}", s.handleStatus)
	s.mux.HandleFunc("GET /delay/{ms}", s.handleDelay)
}

// app applies latency and fault injection.
func (s *Server) app(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.appRequests.Add(1)
		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}
		if p := int64(s.opts.FailPercent); p > 0 && n*p/100 > (n-1)*p/100 {
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}
		next(w, r)
	})
}

var page = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>Cat vs Dog Voting App</title></head>
<body>
<h1>CAT vs DOG</h1>
<div class="environment">Environment: {{.Environment}} | Cluster: {{.ClusterType}}</div>
<button onclick="vote('cat')">Vote for Cats</button>
<button onclick="vote('dog')">Vote for Dogs</button>
<div class="results">Cats: {{.Cats}} votes | Dogs: {{.Dogs}} votes</div>
</body>
</html>
`))

func (s *Server) render(w http.ResponseWriter, environment string) {
	cats, dogs := s.tally()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = page.Execute(w, struct {
		Environment, ClusterType string
		Cats, Dogs               int
	}{environment, s.opts.ClusterType, cats, dogs})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.opts.Environment)
}

func (s *Server) handleOnPrem(w http.ResponseWriter, r *http.Request) {
	if s.opts.NoOnPrem {
		http.NotFound(w, r)
		return
	}
	s.render(w, "onprem")
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vote string `json:"vote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	animal := strings.ToLower(body.Vote)
	if animal != "cat" && animal != "dog" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid vote. Must be cat or dog"})
		return
	}

	s.mu.Lock()
	s.votes[animal]++
	s.mu.Unlock()
	s.handleResults(w, r)
}

func (s *Server) tally() (cats, dogs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votes["cat"], s.votes["dog"]
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	cats, dogs := s.tally()
	writeJSON(w, http.StatusOK, map[string]int{"cat": cats, "dog": dogs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"environment":  s.opts.Environment,
		"cluster_type": s.opts.ClusterType,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleStatus returns the status code in the path, e.g. /status/404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	fmt.Fprintf(w, "%d %s", code, http.StatusText(code))
}

// handleDelay waits the number of milliseconds in the path, e.g. /delay/100.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.PathValue("ms"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	fmt.Fprintf(w, "delayed %dms", ms)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
