package view

import (
	"errors"

	"weatherview/internal/geo"
	"weatherview/internal/owm"
)

const (
	MsgLocationFailed      = "Unable to fetch location. Please search for a city."
	MsgLocationUnsupported = "Geolocation is not supported by this client"
	MsgCityNotFound        = "City not found"
	MsgLocationLookup      = "Failed to fetch location data"
	MsgLoadFailed          = "Failed to load weather data"
)

// UserMessage converts any cycle error into the single string shown to the user.
func UserMessage(err error) string {
	var (
		geoErr *geo.Error
		nf     *owm.NotFoundError
		apiErr *owm.APIError
		netErr *owm.NetworkError
	)
	switch {
	case errors.As(err, &geoErr):
		if geoErr.Reason == geo.ReasonUnsupported {
			return MsgLocationUnsupported
		}
		return MsgLocationFailed
	case errors.As(err, &nf):
		return MsgCityNotFound
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return MsgLoadFailed
	case errors.As(err, &netErr):
		if netErr.Op == owm.OpForwardGeocode {
			return MsgLocationLookup
		}
		return MsgLoadFailed
	default:
		return MsgLoadFailed
	}
}
