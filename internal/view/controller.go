package view

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"weatherview/internal/forecast"
	"weatherview/internal/geo"
	"weatherview/internal/models"
	"weatherview/internal/observability"
	"weatherview/internal/owm"
	"weatherview/internal/presentation"
)

const DefaultGeolocationTimeout = 10 * time.Second

type WeatherClient interface {
	FetchCurrentAndForecast(ctx context.Context, lat, lon float64) (models.CurrentWeather, []models.ForecastSample, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (models.LocationInfo, bool)
	ForwardGeocode(ctx context.Context, query string) ([]models.LocationInfo, error)
}

// Event is emitted after every committed state change. Condition is set only
// when a fetch succeeded and the background was re-selected from it.
type Event struct {
	State     models.ViewState
	Condition string
}

// Listener receives events while the controller holds its lock, so
// implementations must not block.
type Listener interface {
	ViewUpdated(ev Event)
}

type Listeners []Listener

func (ls Listeners) ViewUpdated(ev Event) {
	for _, l := range ls {
		if l != nil {
			l.ViewUpdated(ev)
		}
	}
}

type Options struct {
	GeolocationTimeout time.Duration
	// Location is the time zone forecast days are bucketed in. Nil means time.Local.
	Location *time.Location
	Listener Listener
	Now      func() time.Time
}

// Controller owns one dashboard's ViewState. Every Locate or Search starts a
// new cycle with a higher sequence number; a cycle's results are applied only
// if no newer cycle has started since.
type Controller struct {
	id     string
	client WeatherClient
	opts   Options

	mu         sync.Mutex
	state      models.ViewState
	seq        uint64
	lastActive time.Time
	closed     bool
}

func New(id string, client WeatherClient, opts Options) *Controller {
	if opts.GeolocationTimeout <= 0 {
		opts.GeolocationTimeout = DefaultGeolocationTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now()
	return &Controller{
		id:         id,
		client:     client,
		opts:       opts,
		state:      models.ViewState{ID: id, Status: models.StatusIdle, UpdatedAt: now},
		lastActive: now,
	}
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) State() models.ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = c.opts.Now()
	return c.state.Clone()
}

// close stops the controller from emitting events. Cycles still in flight
// finish silently.
func (c *Controller) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Locate asks the provider for a position, waiting at most the geolocation
// timeout. On success the position is labelled by reverse geocoding (best
// effort) and weather is fetched. A geolocation failure ends the cycle
// without any weather request.
func (c *Controller) Locate(ctx context.Context, provider geo.Provider) models.ViewState {
	token := c.begin(nil)

	gctx, cancel := context.WithTimeout(ctx, c.opts.GeolocationTimeout)
	coords, err := provider.Locate(gctx)
	if err == nil && gctx.Err() != nil {
		err = gctx.Err()
	}
	cancel()
	if err != nil {
		c.fail(token, "locate", geo.Classify(err))
		return c.State()
	}

	var label string
	if loc, ok := c.client.ReverseGeocode(ctx, coords.Lat, coords.Lon); ok {
		label = presentation.LocationLabel(loc)
	}
	c.fetch(ctx, token, "locate", coords, label, false)
	return c.State()
}

// Search resolves a city query and fetches its weather. A blank query is ignored.
// The query stays in the state until a search succeeds.
func (c *Controller) Search(ctx context.Context, query string) models.ViewState {
	q := strings.TrimSpace(query)
	if q == "" {
		return c.State()
	}
	token := c.begin(&query)

	candidates, err := c.client.ForwardGeocode(ctx, q)
	if err == nil && len(candidates) == 0 {
		err = &owm.NotFoundError{Query: q}
	}
	if err != nil {
		c.fail(token, "search", err)
		return c.State()
	}
	loc := owm.SelectCandidate(candidates, q)
	c.fetch(ctx, token, "search", loc.Coordinates(), presentation.LocationLabel(loc), true)
	return c.State()
}

func (c *Controller) fetch(ctx context.Context, token uint64, trigger string, coords models.Coordinates, label string, clearQuery bool) {
	cw, samples, err := c.client.FetchCurrentAndForecast(ctx, coords.Lat, coords.Lon)
	if err != nil {
		c.fail(token, trigger, err)
		return
	}
	days, err := forecast.Normalize(samples, c.opts.Location)
	if err != nil {
		c.fail(token, trigger, err)
		return
	}
	if label != "" {
		cw.DisplayName = label
	}
	background := presentation.Background(cw.ConditionMain)

	c.finish(token, trigger, "ok", cw.ConditionMain, func(st *models.ViewState) {
		st.Status = models.StatusReady
		st.CurrentWeather = &cw
		st.Forecast = days
		st.Background = background
		st.Error = ""
		if clearQuery {
			st.Query = ""
		}
	})
}

// fail leaves the previous weather, forecast and background untouched.
func (c *Controller) fail(token uint64, trigger string, err error) {
	msg := UserMessage(err)
	slog.Debug("view cycle failed", "view_id", c.id, "trigger", trigger, "seq", token, "error", err)
	c.finish(token, trigger, "error", "", func(st *models.ViewState) {
		st.Status = models.StatusError
		st.Error = msg
	})
}

func (c *Controller) begin(query *string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.state.Seq = c.seq
	c.state.Status = models.StatusLoading
	c.state.Loading = true
	if query != nil {
		c.state.Query = *query
	}
	c.commitLocked("")
	return c.seq
}

func (c *Controller) finish(token uint64, trigger, outcome, condition string, apply func(*models.ViewState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.seq {
		observability.StaleCycles.Inc()
		slog.Debug("discarding stale view cycle", "view_id", c.id, "seq", token, "latest", c.seq)
		return
	}
	apply(&c.state)
	c.state.Loading = false
	observability.FetchCycles.WithLabelValues(trigger, outcome).Inc()
	c.commitLocked(condition)
}

func (c *Controller) commitLocked(condition string) {
	if c.closed {
		return
	}
	now := c.opts.Now()
	c.state.Rev++
	c.state.UpdatedAt = now
	c.lastActive = now
	if c.opts.Listener != nil {
		c.opts.Listener.ViewUpdated(Event{State: c.state.Clone(), Condition: condition})
	}
}
