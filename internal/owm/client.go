package owm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weatherview/internal/cache"
	"weatherview/internal/models"
	"weatherview/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL    = "https://api.openweathermap.org/data/2.5"
	DefaultGeoBaseURL = "https://api.openweathermap.org/geo/1.0"

	successCode     = "200"
	candidateLimit  = 5
	maxErrorBodyLen = 512
)

var tracer = otel.Tracer("weatherview/owm")

type Config struct {
	APIKey     string
	BaseURL    string
	GeoBaseURL string
	Units      string
	HTTPClient *http.Client
	// Cache holds geocoding results. Nil disables caching.
	Cache cache.Store
}

type Client struct {
	apiKey     string
	baseURL    string
	geoBaseURL string
	units      string
	httpClient *http.Client
	cache      cache.Store
}

func New(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		geoBaseURL: strings.TrimRight(cfg.GeoBaseURL, "/"),
		units:      cfg.Units,
		httpClient: cfg.HTTPClient,
		cache:      cfg.Cache,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.geoBaseURL == "" {
		c.geoBaseURL = DefaultGeoBaseURL
	}
	if c.units == "" {
		c.units = "metric"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// FetchCurrentAndForecast issues the current-weather and forecast requests
// concurrently and waits for both. If both fail, the current-weather error wins.
func (c *Client) FetchCurrentAndForecast(ctx context.Context, lat, lon float64) (models.CurrentWeather, []models.ForecastSample, error) {
	ctx, span := tracer.Start(ctx, "owm.FetchCurrentAndForecast")
	defer span.End()
	span.SetAttributes(attribute.Float64("lat", lat), attribute.Float64("lon", lon))

	params := url.Values{
		"lat":   {formatCoord(lat)},
		"lon":   {formatCoord(lon)},
		"appid": {c.apiKey},
		"units": {c.units},
	}

	var (
		current     currentResponse
		forecast    forecastResponse
		currentErr  error
		forecastErr error
		g           errgroup.Group
	)
	g.Go(func() error {
		currentErr = c.getWeatherJSON(ctx, OpCurrent, c.baseURL+"/weather?"+params.Encode(), &current, func() (statusCode, apiMessage) {
			return current.Cod, current.Message
		})
		return currentErr
	})
	g.Go(func() error {
		forecastErr = c.getWeatherJSON(ctx, OpForecast, c.baseURL+"/forecast?"+params.Encode(), &forecast, func() (statusCode, apiMessage) {
			return forecast.Cod, forecast.Message
		})
		return forecastErr
	})

	if err := g.Wait(); err != nil {
		if currentErr != nil {
			err = currentErr
		} else {
			err = forecastErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.CurrentWeather{}, nil, err
	}
	return current.toModel(), forecast.toModel(), nil
}

// ReverseGeocode is best-effort: any failure or empty result yields ok=false.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (models.LocationInfo, bool) {
	ctx, span := tracer.Start(ctx, "owm.ReverseGeocode")
	defer span.End()

	key := fmt.Sprintf("geo:reverse:%.4f,%.4f", lat, lon)
	if loc, ok := cache.GetJSON[models.LocationInfo](ctx, c.cache, key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return loc, true
	}

	params := url.Values{
		"lat":   {formatCoord(lat)},
		"lon":   {formatCoord(lon)},
		"limit": {"1"},
		"appid": {c.apiKey},
	}
	var results []geocodeResult
	if err := c.getGeocodeJSON(ctx, OpReverseGeocode, c.geoBaseURL+"/reverse?"+params.Encode(), &results); err != nil {
		slog.Debug("reverse geocoding failed", "lat", lat, "lon", lon, "error", err)
		return models.LocationInfo{}, false
	}
	if len(results) == 0 {
		return models.LocationInfo{}, false
	}

	loc := toLocations(results[:1])[0]
	if loc.Lat == 0 && loc.Lon == 0 {
		loc.Lat, loc.Lon = lat, lon
	}
	if err := cache.SetJSON(ctx, c.cache, key, loc); err != nil {
		slog.Warn("geocode cache write failed", "key", key, "error", err)
	}
	return loc, true
}

// ForwardGeocode returns up to five API-ranked candidates for a city query.
func (c *Client) ForwardGeocode(ctx context.Context, query string) ([]models.LocationInfo, error) {
	ctx, span := tracer.Start(ctx, "owm.ForwardGeocode")
	defer span.End()

	q := strings.TrimSpace(query)
	key := "geo:direct:" + strings.ToLower(q)
	if locs, ok := cache.GetJSON[[]models.LocationInfo](ctx, c.cache, key); ok && len(locs) > 0 {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return locs, nil
	}

	params := url.Values{
		"q":     {q},
		"limit": {strconv.Itoa(candidateLimit)},
		"appid": {c.apiKey},
	}
	var results []geocodeResult
	if err := c.getGeocodeJSON(ctx, OpForwardGeocode, c.geoBaseURL+"/direct?"+params.Encode(), &results); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(results) == 0 {
		return nil, &NotFoundError{Query: q}
	}

	locs := toLocations(results)
	if err := cache.SetJSON(ctx, c.cache, key, locs); err != nil {
		slog.Warn("geocode cache write failed", "key", key, "error", err)
	}
	return locs, nil
}

// SelectCandidate picks the first candidate whose name equals the query
// case-insensitively, falling back to the first candidate. candidates must be non-empty.
func SelectCandidate(candidates []models.LocationInfo, query string) models.LocationInfo {
	q := strings.TrimSpace(query)
	for _, c := range candidates {
		if strings.EqualFold(c.Name, q) {
			return c
		}
	}
	return candidates[0]
}

// getWeatherJSON decodes the body whatever the HTTP status, since OWM reports
// failures through the cod field, then checks cod against the success code.
func (c *Client) getWeatherJSON(ctx context.Context, op Op, u string, v any, status func() (statusCode, apiMessage)) error {
	resp, err := c.do(ctx, op, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.UpstreamCalls.WithLabelValues(string(op), "network_error").Inc()
		return &NetworkError{Op: op, Err: err}
	}
	if err := json.Unmarshal(body, v); err != nil {
		observability.UpstreamCalls.WithLabelValues(string(op), "network_error").Inc()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))}
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	code, msg := status()
	if string(code) != successCode {
		observability.UpstreamCalls.WithLabelValues(string(op), "api_error").Inc()
		if code == "" {
			code = statusCode(strconv.Itoa(resp.StatusCode))
		}
		return &APIError{Op: op, Code: string(code), Message: string(msg)}
	}
	observability.UpstreamCalls.WithLabelValues(string(op), "ok").Inc()
	return nil
}

// getGeocodeJSON treats any non-2xx status as a transport failure.
func (c *Client) getGeocodeJSON(ctx context.Context, op Op, u string, v any) error {
	resp, err := c.do(ctx, op, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		observability.UpstreamCalls.WithLabelValues(string(op), "network_error").Inc()
		return &NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		observability.UpstreamCalls.WithLabelValues(string(op), "network_error").Inc()
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	observability.UpstreamCalls.WithLabelValues(string(op), "ok").Inc()
	return nil
}

func (c *Client) do(ctx context.Context, op Op, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamCalls.WithLabelValues(string(op), "network_error").Inc()
		var ue *url.Error
		if errors.As(err, &ue) {
			// The URL carries appid; keep it out of error strings.
			err = ue.Err
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	return resp, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen]
	}
	return s
}
