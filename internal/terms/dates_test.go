package terms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"same year", date(2024, 3, 10), 6, date(2024, 9, 10)},
		{"year carry", date(2024, 11, 15), 14, date(2026, 1, 15)},
		{"exact years", date(2024, 5, 1), 24, date(2026, 5, 1)},
		{"december wrap", date(2024, 12, 1), 1, date(2025, 1, 1)},
		{"clamp leap february", date(2024, 1, 31), 1, date(2024, 2, 29)},
		{"clamp february", date(2023, 1, 31), 1, date(2023, 2, 28)},
		{"clamp thirty day month", date(2024, 8, 31), 1, date(2024, 9, 30)},
		{"zero months", date(2024, 7, 4), 0, date(2024, 7, 4)},
		{"negative months", date(2024, 1, 15), -1, date(2023, 12, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonths(tt.start, tt.months))
		})
	}
}

func TestStartOfDay(t *testing.T) {
	in := time.Date(2025, 6, 3, 23, 59, 1, 5, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, date(2025, 6, 3), StartOfDay(in))

	late := time.Date(2025, 6, 3, 1, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, date(2025, 6, 2), StartOfDay(late))
}
