package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"weatherview/internal/models"
)

// IPLocator resolves a client IP through an ip-api.com compatible endpoint:
// GET {base}/json/{ip} → {"status":"success","lat":..,"lon":..}.
type IPLocator struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (l *IPLocator) For(ip string) Provider {
	return ipProvider{locator: l, ip: ip}
}

type ipProvider struct {
	locator *IPLocator
	ip      string
}

func (p ipProvider) Locate(ctx context.Context) (models.Coordinates, error) {
	return p.locator.Lookup(ctx, p.ip)
}

func (l *IPLocator) Lookup(ctx context.Context, ip string) (models.Coordinates, error) {
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	u := strings.TrimRight(l.BaseURL, "/") + "/json/" + url.PathEscape(ip) + "?fields=status,message,lat,lon"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Coordinates{}, &Error{Reason: ReasonUnavailable, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Coordinates{}, &Error{Reason: ReasonTimeout, Err: err}
		}
		return models.Coordinates{}, &Error{Reason: ReasonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Coordinates{}, &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("ip lookup returned status %d", resp.StatusCode)}
	}

	var body struct {
		Status  string  `json:"status"`
		Message string  `json:"message"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Coordinates{}, &Error{Reason: ReasonUnavailable, Err: err}
	}
	if body.Status != "success" {
		return models.Coordinates{}, &Error{Reason: ReasonUnavailable, Err: fmt.Errorf("ip lookup failed: %s", body.Message)}
	}
	return models.Coordinates{Lat: body.Lat, Lon: body.Lon}, nil
}
