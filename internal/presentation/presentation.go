// Package presentation holds the static lookups the dashboard uses to label
// locations and pick a background for a weather condition.
package presentation

import (
	"strings"

	"weatherview/internal/models"
)

const DefaultBackground = "clear"

var backgrounds = map[string]string{
	"Clear":        "clear",
	"Rain":         "default",
	"Clouds":       "cloudy",
	"Snow":         "default",
	"Thunderstorm": "default",
	"wind":         "default",
	"Fog":          "foggy",
	"Mist":         "foggy",
}

var countryNames = map[string]string{
	"US": "USA",
	"GB": "UK",
	"IN": "India",
}

// Background returns the background asset key for a condition category,
// falling back to the Clear asset for anything unmapped.
func Background(conditionMain string) string {
	if b, ok := backgrounds[conditionMain]; ok {
		return b
	}
	return DefaultBackground
}

func CountryName(code string) string {
	if name, ok := countryNames[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}

// LocationLabel formats "Name, State Country" with the state omitted when empty.
func LocationLabel(loc models.LocationInfo) string {
	var b strings.Builder
	b.WriteString(loc.Name)
	if loc.State != "" {
		b.WriteString(", ")
		b.WriteString(loc.State)
	}
	if country := CountryName(loc.Country); country != "" {
		b.WriteString(" ")
		b.WriteString(country)
	}
	return b.String()
}
