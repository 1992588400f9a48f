package owm

import (
	"bytes"
	"encoding/json"
	"strings"

	"weatherview/internal/models"
)

// statusCode accepts both encodings OWM uses for cod: 200 on /weather, "200" on /forecast.
type statusCode string

func (c *statusCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = statusCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = statusCode(n.String())
	return nil
}

// apiMessage keeps string messages and ignores the numeric "message": 0 that
// successful forecast bodies carry.
type apiMessage string

func (m *apiMessage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*m = ""
		return nil
	}
	*m = apiMessage(s)
	return nil
}

type condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type currentResponse struct {
	Cod     statusCode  `json:"cod"`
	Message apiMessage  `json:"message"`
	Name    string      `json:"name"`
	Weather []condition `json:"weather"`
	Main    struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (r currentResponse) toModel() models.CurrentWeather {
	cw := models.CurrentWeather{
		Temperature: r.Main.Temp,
		FeelsLike:   r.Main.FeelsLike,
		Humidity:    r.Main.Humidity,
		WindSpeed:   r.Wind.Speed,
		DisplayName: r.Name,
	}
	if len(r.Weather) > 0 {
		cw.ConditionMain = r.Weather[0].Main
		cw.ConditionDescription = r.Weather[0].Description
	}
	return cw
}

type forecastResponse struct {
	Cod     statusCode `json:"cod"`
	Message apiMessage `json:"message"`
	List    []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []condition `json:"weather"`
	} `json:"list"`
}

func (r forecastResponse) toModel() []models.ForecastSample {
	out := make([]models.ForecastSample, 0, len(r.List))
	for _, item := range r.List {
		s := models.ForecastSample{Timestamp: item.Dt, Temperature: item.Main.Temp}
		if len(item.Weather) > 0 {
			s.ConditionMain = item.Weather[0].Main
			s.ConditionDescription = item.Weather[0].Description
		}
		out = append(out, s)
	}
	return out
}

type geocodeResult struct {
	Name    string  `json:"name"`
	State   string  `json:"state"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func toLocations(results []geocodeResult) []models.LocationInfo {
	out := make([]models.LocationInfo, len(results))
	for i, r := range results {
		out[i] = models.LocationInfo{Name: r.Name, State: r.State, Country: r.Country, Lat: r.Lat, Lon: r.Lon}
	}
	return out
}
