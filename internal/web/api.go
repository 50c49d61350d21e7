package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/engagic/engagic/civic"
	"github.com/engagic/engagic/internal/db"
)

var zipcodePattern = regexp.MustCompile(`^\d{5}$`)

// apiSearch resolves a free-form query: a 5-digit zipcode, "Name, ST", or a
// bare city name. Ambiguous names return the candidate list instead of a
// guess.
func (s *Server) apiSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.jsonError(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	if len(q) > s.cfg.MaxQueryLength {
		s.jsonError(w, "query too long", http.StatusBadRequest)
		return
	}

	if zipcodePattern.MatchString(q) {
		city, err := s.store.GetCityByZipcode(q)
		if errors.Is(err, db.ErrNotFound) {
			s.jsonError(w, "no city found for zipcode", http.StatusNotFound)
			return
		}
		if err != nil {
			s.serverError(w, err)
			return
		}
		s.respondCity(w, city)
		return
	}

	name, state := splitCityQuery(q)
	if state != "" {
		city, err := s.store.GetCityByName(name, state)
		switch {
		case errors.Is(err, db.ErrAmbiguous):
			s.respondAmbiguous(w, name, state)
			return
		case errors.Is(err, db.ErrNotFound):
			s.jsonError(w, "city not found", http.StatusNotFound)
			return
		case err != nil:
			s.serverError(w, err)
			return
		}
		s.respondCity(w, city)
		return
	}

	// Bare name: scan across states.
	cities, err := s.store.GetCities(db.CityFilter{Name: name, Limit: 25})
	if err != nil {
		s.serverError(w, err)
		return
	}
	switch len(cities) {
	case 0:
		s.jsonError(w, "city not found", http.StatusNotFound)
	case 1:
		s.respondCity(w, &cities[0])
	default:
		s.jsonResponse(w, map[string]any{"ambiguous": true, "candidates": cities})
	}
}

// splitCityQuery parses "San Jose, CA" style queries.
func splitCityQuery(q string) (name, state string) {
	if i := strings.LastIndexByte(q, ','); i > 0 {
		name = strings.TrimSpace(q[:i])
		state = strings.ToUpper(strings.TrimSpace(q[i+1:]))
		if len(state) == 2 {
			return name, state
		}
	}
	parts := strings.Fields(q)
	if len(parts) >= 2 {
		if last := strings.ToUpper(parts[len(parts)-1]); len(last) == 2 {
			return strings.Join(parts[:len(parts)-1], " "), last
		}
	}
	return q, ""
}

func (s *Server) respondCity(w http.ResponseWriter, city *civic.City) {
	meetings, err := s.store.GetMeetingsForCity(city.Banana, 50)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"city": city, "meetings": meetings})
}

func (s *Server) respondAmbiguous(w http.ResponseWriter, name, state string) {
	cities, err := s.store.GetCities(db.CityFilter{Name: name, State: state, Limit: 25})
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"ambiguous": true, "candidates": cities})
}

func (s *Server) apiGetCity(w http.ResponseWriter, r *http.Request) {
	city, err := s.store.GetCity(r.PathValue("banana"))
	if errors.Is(err, db.ErrNotFound) {
		s.jsonError(w, "city not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, city)
}

func (s *Server) apiGetCityMeetings(w http.ResponseWriter, r *http.Request) {
	banana := r.PathValue("banana")
	if _, err := s.store.GetCity(banana); errors.Is(err, db.ErrNotFound) {
		s.jsonError(w, "city not found", http.StatusNotFound)
		return
	}
	meetings, err := s.store.GetMeetingsForCity(banana, queryLimit(r, 50))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"meetings": meetings})
}

func (s *Server) apiGetMeetingsByTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.ToLower(strings.TrimSpace(r.PathValue("topic")))
	meetings, err := s.store.GetMeetingsByTopic(topic, queryLimit(r, 50))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"topic": topic, "meetings": meetings})
}

// apiGetMeeting returns one meeting; summary_html carries the goldmark
// rendering of the stored markdown.
func (s *Server) apiGetMeeting(w http.ResponseWriter, r *http.Request) {
	meeting, err := s.store.GetMeeting(r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		s.jsonError(w, "meeting not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	resp := map[string]any{"meeting": meeting}
	if meeting.Summary != "" {
		var buf bytes.Buffer
		if err := s.md.Convert([]byte(meeting.Summary), &buf); err == nil {
			resp["summary_html"] = buf.String()
		}
	}
	if items, err := s.store.GetAgendaItems(meeting.ID); err == nil && len(items) > 0 {
		resp["items"] = items
	}
	s.jsonResponse(w, resp)
}

func (s *Server) apiGetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetQueueStats()
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := map[string]any{"queue": stats}
	if s.status != nil {
		resp["failed_cities"] = s.status.FailedCities()
		resp["current_sync"] = s.status.CurrentSyncJSON()
		resp["loops"] = s.status.LoopStatusesJSON()
	}
	s.jsonResponse(w, resp)
}

func (s *Server) apiAdminSync(w http.ResponseWriter, r *http.Request) {
	banana := r.PathValue("banana")
	if _, err := s.store.GetCity(banana); errors.Is(err, db.ErrNotFound) {
		s.jsonError(w, "city not found", http.StatusNotFound)
		return
	}
	if s.TriggerSync == nil {
		s.jsonError(w, "sync not available", http.StatusServiceUnavailable)
		return
	}
	s.TriggerSync(banana)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "sync started", "banana": banana})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 200 {
		return def
	}
	return n
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode json response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	s.jsonError(w, "internal error", http.StatusInternalServerError)
}
