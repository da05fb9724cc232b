package utils

import (
	"fmt"
	"strconv"
	"time"
)

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

// Sensing times come from several metadata producers which don't agree
// on a single layout.
var timeLayouts = []string{
	ISOFormat,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime is a drop-in replacement for time.Parse matching against
// all the layouts found in scene metadata.  Times without a zone are
// UTC.
func ParseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("Date could not be parsed by any expected time format: `%s`", value)
}

// YearLabel derives the year label of a scene from the first four
// characters of its sensing time string.
func YearLabel(sensingTime string) (int, error) {
	if len(sensingTime) < 4 {
		return 0, fmt.Errorf("sensing time %q is too short for a year label", sensingTime)
	}
	year, err := strconv.Atoi(sensingTime[:4])
	if err != nil {
		return 0, fmt.Errorf("sensing time %q has no year prefix: %v", sensingTime, err)
	}
	return year, nil
}

// GenerateYears returns every year between start and end inclusive.
func GenerateYears(start, end int) []int {
	years := []int{}
	for year := start; year <= end; year++ {
		years = append(years, year)
	}
	return years
}

// InDOYWindow reports whether the day of year of t falls inside
// [doyStart, doyEnd].
func InDOYWindow(t time.Time, doyStart, doyEnd int) bool {
	doy := t.YearDay()
	return doy >= doyStart && doy <= doyEnd
}
