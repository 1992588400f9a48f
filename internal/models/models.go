package models

import "time"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationInfo is a geocoding result. State is empty when the provider has none.
type LocationInfo struct {
	Name    string  `json:"name"`
	State   string  `json:"state,omitempty"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (l LocationInfo) Coordinates() Coordinates {
	return Coordinates{Lat: l.Lat, Lon: l.Lon}
}

type CurrentWeather struct {
	Temperature          float64 `json:"temperature"`
	FeelsLike            float64 `json:"feels_like"`
	Humidity             float64 `json:"humidity"`
	WindSpeed            float64 `json:"wind_speed"`
	ConditionMain        string  `json:"condition_main"`
	ConditionDescription string  `json:"condition_description"`
	DisplayName          string  `json:"display_name"`
}

// ForecastSample is one entry of the raw 3-hourly forecast feed.
type ForecastSample struct {
	Timestamp            int64   `json:"dt"`
	Temperature          float64 `json:"temperature"`
	ConditionMain        string  `json:"condition_main"`
	ConditionDescription string  `json:"condition_description"`
}

type ForecastDay struct {
	Timestamp            int64   `json:"dt"`
	Temperature          float64 `json:"temperature"`
	ConditionMain        string  `json:"condition_main"`
	ConditionDescription string  `json:"condition_description"`
}

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// ViewState is one dashboard's state. Seq identifies the fetch cycle; Rev
// increases on every committed change, including the loading transition.
type ViewState struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	CurrentWeather *CurrentWeather `json:"current_weather,omitempty"`
	Forecast       []ForecastDay   `json:"forecast,omitempty"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
	Query          string          `json:"query"`
	Background     string          `json:"background,omitempty"`
	Seq            uint64          `json:"seq"`
	Rev            uint64          `json:"rev"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so readers never share slices or pointers with the writer.
func (s ViewState) Clone() ViewState {
	out := s
	if s.CurrentWeather != nil {
		cw := *s.CurrentWeather
		out.CurrentWeather = &cw
	}
	if s.Forecast != nil {
		out.Forecast = append([]ForecastDay(nil), s.Forecast...)
	}
	return out
}

// WeatherResponse is the one-shot payload served without a view session.
type WeatherResponse struct {
	Current    CurrentWeather `json:"current"`
	Forecast   []ForecastDay  `json:"forecast"`
	Background string         `json:"background"`
}
