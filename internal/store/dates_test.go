package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlotLabel(t *testing.T) {
	start, end, err := ParseSlotLabel("09:30-10:30")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, start)
	assert.Equal(t, 10*time.Hour+30*time.Minute, end)

	for _, bad := range []string{"", "09:30", "9-10-11", "ab:cd-10:00"} {
		_, _, err := ParseSlotLabel(bad)
		assert.Error(t, err, bad)
	}
}

func TestCanonicalSlotLabel(t *testing.T) {
	for _, in := range []string{"09:00-10:00", "9:00-10:00", "09:00 - 10:00", " 9:00-10:00 "} {
		got, err := CanonicalSlotLabel(in)
		require.NoError(t, err, in)
		assert.Equal(t, "09:00-10:00", got, in)
	}

	for _, bad := range []string{"10:00-09:00", "09:00-09:00", "25:00-26:00"} {
		_, err := CanonicalSlotLabel(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2026-03-10T18:45:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", FormatDate(d))

	_, err = ParseDate("10/03/2026")
	assert.Error(t, err)
}
