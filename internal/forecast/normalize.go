package forecast

import (
	"errors"
	"time"

	"weatherview/internal/models"
)

const (
	// Days is the number of entries Normalize returns.
	Days = 6

	window     = Days + 1
	secondsDay = int64(24 * time.Hour / time.Second)
)

var ErrNoSamples = errors.New("forecast has no samples")

// Normalize buckets a time-ordered sub-daily feed into one entry per calendar
// day (the first sample of each day wins), pads to a 7-day window by cloning
// the last day forward, and drops the first day. Dates are computed in loc;
// nil means time.Local.
func Normalize(samples []models.ForecastSample, loc *time.Location) ([]models.ForecastDay, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if loc == nil {
		loc = time.Local
	}

	seen := make(map[string]bool)
	days := make([]models.ForecastDay, 0, window)
	for _, s := range samples {
		key := time.Unix(s.Timestamp, 0).In(loc).Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		days = append(days, models.ForecastDay{
			Timestamp:            s.Timestamp,
			Temperature:          s.Temperature,
			ConditionMain:        s.ConditionMain,
			ConditionDescription: s.ConditionDescription,
		})
	}

	for len(days) < window {
		next := days[len(days)-1]
		next.Timestamp += secondsDay
		days = append(days, next)
	}

	out := make([]models.ForecastDay, Days)
	copy(out, days[1:window])
	return out, nil
}
