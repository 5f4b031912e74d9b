package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronField(t *testing.T) {
	tests := []struct {
		field   string
		value   int
		matches bool
	}{
		{"*", 59, true},
		{"*/15", 30, true},
		{"*/15", 31, false},
		{"5", 5, true},
		{"5", 6, false},
		{"1,15", 15, true},
		{"1,15", 2, false},
		{"9-17", 12, true},
		{"9-17", 18, false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, err := parseCronField(tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.matches, f.matches(tt.value))
		})
	}
}

func TestParseCronFieldInvalid(t *testing.T) {
	for _, field := range []string{"x", "*/0", "*/x", "5-1", "1,,2", "3-x"} {
		t.Run(field, func(t *testing.T) {
			_, err := parseCronField(field)
			assert.Error(t, err)
		})
	}
}

func TestParseCronFieldCount(t *testing.T) {
	_, err := parseCron("0 3 1 *")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5 fields")
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2017, time.July, 12, 14, 20, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		// 3:00 AM on the 1st of every month.
		{"0 3 1 * *", time.Date(2017, time.August, 1, 3, 0, 0, 0, time.UTC)},
		// Top of the next hour.
		{"0 * * * *", time.Date(2017, time.July, 12, 15, 0, 0, 0, time.UTC)},
		// Every quarter hour.
		{"*/15 * * * *", time.Date(2017, time.July, 12, 14, 30, 0, 0, time.UTC)},
		// Day-of-week: next Sunday at midnight.
		{"0 0 * * 0", time.Date(2017, time.July, 16, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextCronTime_NeverAdvancesIntoPast(t *testing.T) {
	after := time.Date(2017, time.July, 12, 14, 0, 0, 0, time.UTC)
	got, err := nextCronTime("0 14 12 7 *", after)
	require.NoError(t, err)
	assert.True(t, got.After(after))
}
