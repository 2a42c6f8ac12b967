package domain

import "time"

// Bar is one trading day's observation for one instrument. Bars for an
// instrument are strictly ordered by trading day with no duplicates;
// the data layer enforces this on load.
type Bar struct {
	Symbol string
	Date   time.Time
	Close  float64
	Volume float64
}
