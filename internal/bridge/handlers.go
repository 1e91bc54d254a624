package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/runnerr0/pagetime/internal/guard"
	"github.com/runnerr0/pagetime/internal/storage"
	"github.com/runnerr0/pagetime/internal/tracker"
)

type tabEvent struct {
	TabID   tracker.TabID `json:"tabId"`
	URL     string        `json:"url"`
	Favicon string        `json:"favIconUrl"`
}

type statusResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	OpenSessions     int    `json:"open_sessions"`
	ClosedSessions   int    `json:"closed_sessions"`
	ReportIntervalMs int64  `json:"report_interval_ms"`
}

func (s *Server) handleTabOpened(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tabEvent
		if !s.decodeJSON(w, r, &req) {
			return
		}

		session, err := s.deps.Sessions.Open(req.TabID, req.URL, req.Favicon)
		if err != nil {
			s.respondWithTrackerError(w, err)
			return
		}
		s.echo(req.TabID, event, req)
		s.respondWithJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleTabRemoved(w http.ResponseWriter, r *http.Request) {
	var req tabEvent
	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := s.deps.Sessions.Remove(req.TabID)
	s.deps.Outbox.Forget(req.TabID)
	s.limiter.forget(req.TabID)
	if err != nil {
		s.respondWithTrackerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNavigationCompleted(w http.ResponseWriter, r *http.Request) {
	var nav guard.Navigation
	if !s.decodeJSON(w, r, &nav) {
		return
	}

	decision, err := s.deps.Navigations.OnNavigationCompleted(r.Context(), nav)
	if err != nil {
		s.log.WithError(err).WithField("tab", nav.Tab).Warn("navigation check failed")
		if !decision.Redirect {
			s.respondWithError(w, http.StatusInternalServerError, "navigation check failed")
			return
		}
	}
	s.respondWithJSON(w, http.StatusOK, decision)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if !s.decodeJSON(w, r, &env) {
		return
	}

	if !s.limiter.allow(env.TabID) {
		s.deps.Metrics.RateLimited()
		s.log.WithField("tab", env.TabID).Warn("message rate limit exceeded")
		writeRateLimitResponse(w, s.limiter.limit)
		return
	}

	msg, err := Decode(env)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Sessions.Handle(env.TabID, msg); err != nil {
		s.respondWithTrackerError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	tab, err := strconv.Atoi(chi.URLParam(r, "tabID"))
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, "tab id must be an integer")
		return
	}
	s.respondWithJSON(w, http.StatusOK, s.deps.Outbox.Drain(tracker.TabID(tab)))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.deps.Sessions.Sessions())
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.deps.Records.Query(r.Context(), criteria)
	if err != nil {
		s.log.WithError(err).Error("failed to query records")
		s.respondWithError(w, http.StatusInternalServerError, "could not query records")
		return
	}
	if records == nil {
		records = []storage.PageVisitRecord{}
	}
	s.respondWithJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Records.GetStats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("failed to get stats")
		s.respondWithError(w, http.StatusInternalServerError, "could not get stats")
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),

		ReportIntervalMs: s.deps.ReportInterval.Milliseconds(),
	}
	for _, session := range s.deps.Sessions.Sessions() {
		if session.Closed() {
			resp.ClosedSessions++
		} else {
			resp.OpenSessions++
		}
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

// parseCriteria reads id, domain, url, start and end (epoch ms) from the
// query string.
func parseCriteria(r *http.Request) (storage.Criteria, error) {
	q := r.URL.Query()
	c := storage.Criteria{
		Domain: q.Get("domain"),
		URL:    q.Get("url"),
	}

	if v := q.Get("id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("invalid id %q", v)
		}
		c.ID = id
	}
	for name, dst := range map[string]**int64{"start": &c.StartTime, "end": &c.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("invalid %s %q", name, v)
		}
		*dst = storage.Millis(ms)
	}
	return c, nil
}

// echo mirrors a tab event into the tab's console when enabled.
func (s *Server) echo(tab tracker.TabID, name string, data any) {
	if s.cfg.EchoLogs {
		s.deps.Outbox.Log(tab, name, data)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if s.cfg.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestSize)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondWithTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrSessionNotFound):
		s.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrNegativeDuration),
		errors.Is(err, tracker.ErrEmptyURL),
		errors.Is(err, tracker.ErrUnknownMessage):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.WithError(err).Error("tracker error")
		s.respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		code = http.StatusInternalServerError
		response = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
