package domain

import (
	"testing"
	"time"
)

func TestEnumValidators(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
		check func() bool
	}{
		{"direction buy", true, DirectionBuy.Valid},
		{"direction sell", true, DirectionSell.Valid},
		{"direction unknown", false, Direction("hold").Valid},
		{"direction empty", false, Direction("").Valid},
		{"frequency daily", true, FrequencyDaily.Valid},
		{"frequency unknown", false, Frequency("hourly").Valid},
		{"venue auto", true, VenueAuto.Valid},
		{"venue unknown", false, VenuePreference("dark-pool").Valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestFrequencyNext(t *testing.T) {
	base := time.Date(2026, 1, 31, 13, 0, 0, 0, time.UTC)

	if got := FrequencyDaily.Next(base); !got.Equal(base.AddDate(0, 0, 1)) {
		t.Errorf("daily next = %v", got)
	}
	if got := FrequencyWeekly.Next(base); !got.Equal(base.AddDate(0, 0, 7)) {
		t.Errorf("weekly next = %v", got)
	}
	// Month-end creation normalises per calendar rules, Jan 31 -> Mar 3.
	if got := FrequencyMonthly.Next(base); !got.Equal(time.Date(2026, 3, 3, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly next = %v", got)
	}
}
