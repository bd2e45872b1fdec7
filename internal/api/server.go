package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/pagination"
	"github.io/infrasutra/quickml/internal/registry"
	"github.io/infrasutra/quickml/internal/sse"
)

const pingInterval = 20 * time.Second

type Server struct {
	env      *list.Env
	registry *registry.Registry
	hub      *sse.Hub
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(env *list.Env, reg *registry.Registry, hub *sse.Hub, logger *slog.Logger) *Server {
	server := &Server{
		env:      env,
		registry: reg,
		hub:      hub,
		logger:   logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)
	mux.HandleFunc("/api/lists", server.handleLists)
	mux.HandleFunc("/api/lists/", server.handleList)
	mux.HandleFunc("/api/stream", server.handleStream)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type listSummary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Count   int    `json:"count"`
	Members int    `json:"members"`
}

type memberStatus struct {
	Address string `json:"address"`
	Errors  int    `json:"errors,omitempty"`
}

type limitsDetail struct {
	MaxMembers           int    `json:"maxMembers"`
	MaxMailLength        int64  `json:"maxMailLength"`
	LifeTime             string `json:"lifeTime"`
	AlertTime            string `json:"alertTime"`
	AutoUnsubscribeCount int    `json:"autoUnsubscribeCount"`
}

type listDetail struct {
	listSummary
	Charset         string         `json:"charset,omitempty"`
	Active          []memberStatus `json:"active"`
	Former          []string       `json:"former"`
	Forward         bool           `json:"forward"`
	Permanent       bool           `json:"permanent"`
	Unlimited       bool           `json:"unlimited"`
	Alerted         bool           `json:"alerted"`
	Waiting         bool           `json:"waiting"`
	LastArticleTime time.Time      `json:"lastArticleTime"`
	Limits          limitsDetail   `json:"limits"`
}

var errNoList = errors.New("no such list")

// openList runs fn on the list named name while holding its lock.
func (s *Server) openList(r *http.Request, name string, fn func(*list.List)) error {
	address := list.AddressForName(name, s.env.Config.Domain)
	return s.registry.With(address, func() error {
		ml, err := list.Open(r.Context(), s.env, address, "", "")
		if err != nil {
			return err
		}
		if ml.NewlyCreated() {
			return errNoList
		}
		fn(ml)
		return nil
	})
}

func summarize(ml *list.List) listSummary {
	return listSummary{
		Name:    ml.Name(),
		Address: ml.Address(),
		Count:   ml.Count(),
		Members: len(ml.ActiveMembers()),
	}
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	params := pagination.FromQuery(r.URL.Query())
	names, err := s.env.Store.Names(r.Context())
	if err != nil {
		s.logger.Error("list names", "error", err)
		http.Error(w, "unable to list mailing lists", http.StatusInternalServerError)
		return
	}
	valid := names[:0]
	for _, name := range names {
		if list.ValidName(name) {
			valid = append(valid, name)
		}
	}
	sort.Strings(valid)
	if params.Descending() {
		sort.Sort(sort.Reverse(sort.StringSlice(valid)))
	}

	total := len(valid)
	start, end := params.Window(total)
	response := struct {
		Lists   []listSummary `json:"lists"`
		Page    int           `json:"page"`
		Limit   int           `json:"limit"`
		Total   int           `json:"total"`
		HasNext bool          `json:"hasNext"`
	}{
		Lists:   make([]listSummary, 0, end-start),
		Page:    params.Page,
		Limit:   params.Limit,
		Total:   total,
		HasNext: params.HasNext(total),
	}
	for _, name := range valid[start:end] {
		err := s.openList(r, name, func(ml *list.List) {
			response.Lists = append(response.Lists, summarize(ml))
		})
		if err != nil && !errors.Is(err, errNoList) {
			s.logger.Error("open list", "list", name, "error", err)
		}
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/lists/")
	if !list.ValidName(name) {
		http.Error(w, "invalid list name", http.StatusBadRequest)
		return
	}
	var detail listDetail
	err := s.openList(r, name, func(ml *list.List) {
		limits := ml.Limits()
		detail = listDetail{
			listSummary:     summarize(ml),
			Charset:         ml.Charset(),
			Active:          make([]memberStatus, 0),
			Former:          ml.FormerMembers(),
			Forward:         ml.Forward(),
			Permanent:       ml.Permanent(),
			Unlimited:       ml.Unlimited(),
			Alerted:         ml.Alerted(),
			Waiting:         ml.ConfirmationWaiting(),
			LastArticleTime: ml.LastArticleTime(),
			Limits: limitsDetail{
				MaxMembers:           limits.MaxMembers,
				MaxMailLength:        limits.MaxMailLength,
				LifeTime:             limits.LifeTime.String(),
				AlertTime:            limits.AlertTime.String(),
				AutoUnsubscribeCount: limits.AutoUnsubscribeCount,
			},
		}
		for _, address := range ml.ActiveMembers() {
			detail.Active = append(detail.Active, memberStatus{Address: address, Errors: ml.ErrorCount(address)})
		}
	})
	if errors.Is(err, errNoList) {
		http.Error(w, "list not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("open list", "list", name, "error", err)
		http.Error(w, "unable to open list", http.StatusInternalServerError)
		return
	}
	if detail.Former == nil {
		detail.Former = []string{}
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("list")
	if name == "" {
		name = sse.All
	} else if !list.ValidName(name) {
		http.Error(w, "invalid list name", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(name)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

// handleReady reports ready once the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.env.Store.Names(r.Context()); err != nil {
		s.logger.Warn("store not ready", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
