package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"weatherview/internal/forecast"
	"weatherview/internal/geo"
	"weatherview/internal/models"
	"weatherview/internal/owm"
	"weatherview/internal/presentation"
	"weatherview/internal/realtime"
	"weatherview/internal/view"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 16

type Options struct {
	Views   *view.Registry
	Weather view.WeatherClient
	// Hub is optional; without it the WebSocket route answers 404.
	Hub *realtime.Hub
	// IPLocator is optional; without it a locate request with no client
	// position is reported as unsupported.
	IPLocator *geo.IPLocator
	// Location buckets one-shot forecasts; nil means time.Local.
	Location *time.Location
}

type Server struct {
	views     *view.Registry
	weather   view.WeatherClient
	hub       *realtime.Hub
	ipLocator *geo.IPLocator
	loc       *time.Location
}

func NewServer(opts Options) *Server {
	return &Server{
		views:     opts.Views,
		weather:   opts.Weather,
		hub:       opts.Hub,
		ipLocator: opts.IPLocator,
		loc:       opts.Location,
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/views", s.handleCreateView)
	r.Route("/views/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetView)
		r.Delete("/", s.handleDeleteView)
		r.Post("/locate", s.handleLocate)
		r.Post("/search", s.handleSearch)
		r.Get("/ws", s.handleViewStream)
	})

	r.Get("/weather", s.handleWeather)
	r.Get("/geocode/search", s.handleGeocodeSearch)
	r.Get("/geocode/reverse", s.handleReverseGeocode)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseCoords(r *http.Request) (lat, lon float64, msg string) {
	latStr := r.URL.Query().Get("lat")
	lonStr := r.URL.Query().Get("lon")
	if latStr == "" || lonStr == "" {
		return 0, 0, "lat and lon parameters are required"
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, "invalid lat parameter"
	}
	lon, err = strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, "invalid lon parameter"
	}
	return lat, lon, ""
}

func (s *Server) lookupView(w http.ResponseWriter, r *http.Request) (*view.Controller, bool) {
	c, err := s.views.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "view not found")
		return nil, false
	}
	return c, true
}

// Cycles run to completion even if the requesting client goes away.
func cycleContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleCreateView(w http.ResponseWriter, _ *http.Request) {
	c := s.views.Create()
	slog.Debug("view created", "view_id", c.ID())
	writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID(), "state": c.State()})
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	if err := s.views.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type locateRequest struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Error string   `json:"error"`
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	var body locateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var provider geo.Provider
	switch {
	case strings.TrimSpace(body.Error) != "":
		provider = geo.Failed(geo.ParseReason(body.Error))
	case body.Lat != nil && body.Lon != nil:
		if *body.Lat < -90 || *body.Lat > 90 || *body.Lon < -180 || *body.Lon > 180 {
			writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		}
		provider = geo.Fixed{Lat: *body.Lat, Lon: *body.Lon}
	case body.Lat != nil || body.Lon != nil:
		writeError(w, http.StatusBadRequest, "both lat and lon are required")
		return
	case s.ipLocator != nil:
		provider = s.ipLocator.For(clientIP(r))
	default:
		provider = geo.Unsupported
	}

	writeJSON(w, http.StatusOK, c.Locate(cycleContext(r), provider))
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	var body struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, c.Search(cycleContext(r), body.Query))
}

func (s *Server) handleViewStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "realtime stream disabled")
		return
	}
	c, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	s.hub.Serve(w, r, c.ID(), c.State)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	lat, lon, msg := parseCoords(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	current, samples, err := s.weather.FetchCurrentAndForecast(r.Context(), lat, lon)
	if err != nil {
		slog.Warn("weather fetch failed", "lat", lat, "lon", lon, "error", err)
		writeError(w, http.StatusBadGateway, view.UserMessage(err))
		return
	}
	days, err := forecast.Normalize(samples, s.loc)
	if err != nil {
		writeError(w, http.StatusBadGateway, view.UserMessage(err))
		return
	}
	if loc, ok := s.weather.ReverseGeocode(r.Context(), lat, lon); ok {
		current.DisplayName = presentation.LocationLabel(loc)
	}

	writeJSON(w, http.StatusOK, models.WeatherResponse{
		Current:    current,
		Forecast:   days,
		Background: presentation.Background(current.ConditionMain),
	})
}

func (s *Server) handleGeocodeSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	locations, err := s.weather.ForwardGeocode(r.Context(), query)
	if err != nil {
		var nf *owm.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, view.UserMessage(err))
			return
		}
		writeError(w, http.StatusBadGateway, view.UserMessage(err))
		return
	}

	// Return a plain array for frontend convenience.
	writeJSON(w, http.StatusOK, locations)
}

func (s *Server) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	lat, lon, msg := parseCoords(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	loc, ok := s.weather.ReverseGeocode(r.Context(), lat, lon)
	if !ok {
		writeError(w, http.StatusNotFound, "location not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"label":    presentation.LocationLabel(loc),
	})
}
