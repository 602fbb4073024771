package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNormalizer(t *testing.T, now time.Time) *Normalizer {
	t.Helper()
	schema, err := DefaultSchema()
	require.NoError(t, err)
	n := NewNormalizer(schema)
	n.now = func() time.Time { return now }
	return n
}

func TestNormalize_FullPayload(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := testNormalizer(t, now)

	usageJSON := []byte(`{
		"five_hour": {"utilization": 73, "resets_at": "2026-03-01T12:15:00Z"},
		"seven_day": {"utilization": 41.5, "resets_at": "2026-03-04T10:00:00Z"},
		"seven_day_opus": {"utilization": 12},
		"seven_day_sonnet": {"utilization": 55}
	}`)
	creditsJSON := []byte(`{"amount": 1234, "currency": "usd"}`)
	overageJSON := []byte(`{"extra_usage": {"used_credits": 250, "monthly_limit": 1000, "currency": "USD"}}`)

	snap, err := n.Normalize(usageJSON, creditsJSON, overageJSON)
	require.NoError(t, err)

	assert.Equal(t, 73.0, snap.SessionPercent)
	assert.Equal(t, "2h 15m", snap.SessionReset)
	assert.Equal(t, 41.5, snap.WeekPercent)
	assert.Equal(t, "3d 0h", snap.WeekReset)
	assert.Equal(t, 12.0, snap.ModelPercents[TierOpus])
	assert.Equal(t, 55.0, snap.ModelPercents[TierSonnet])

	require.NotNil(t, snap.Credits)
	assert.Equal(t, 12.34, snap.Credits.Amount)
	assert.Equal(t, "USD", snap.Credits.Currency)

	require.NotNil(t, snap.Overage)
	assert.Equal(t, 2.5, snap.Overage.Used)
	assert.Equal(t, 10.0, snap.Overage.Limit)
	assert.Equal(t, 25.0, snap.Overage.Percent)
	assert.Equal(t, now, snap.CapturedAt)
}

func TestNormalize_AlternatePaths(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := testNormalizer(t, now)

	// Older payload version with renamed windows.
	usageJSON := []byte(`{
		"session": {"utilization": 10, "resets_at": "2026-03-01T10:30:00Z"},
		"seven_day_overall": {"utilization": 20}
	}`)
	snap, err := n.Normalize(usageJSON, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.SessionPercent)
	assert.Equal(t, "30m", snap.SessionReset)
	assert.Equal(t, 20.0, snap.WeekPercent)
	assert.Equal(t, "Unknown", snap.WeekReset)
	assert.Nil(t, snap.Credits)
	assert.Nil(t, snap.Overage)
}

func TestNormalize_ShapeMismatch(t *testing.T) {
	n := testNormalizer(t, time.Now())

	_, err := n.Normalize([]byte(`{"unrelated": true}`), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResponseShape))

	_, err = n.Normalize([]byte(`not json`), nil, nil)
	assert.True(t, errors.Is(err, ErrResponseShape))
}

func TestNormalize_OptionalPayloadFailuresTolerated(t *testing.T) {
	n := testNormalizer(t, time.Now())
	usageJSON := []byte(`{
		"five_hour": {"utilization": 1},
		"seven_day": {"utilization": 2}
	}`)
	snap, err := n.Normalize(usageJSON, []byte(`garbage`), []byte(`{"extra_usage":{"used_credits": 5}}`))
	require.NoError(t, err)
	assert.Nil(t, snap.Credits)
	// Overage without a limit is dropped rather than reported as 0/0.
	assert.Nil(t, snap.Overage)
}

func TestNormalize_ClampsPercent(t *testing.T) {
	n := testNormalizer(t, time.Now())
	snap, err := n.Normalize([]byte(`{
		"five_hour": {"utilization": 130},
		"seven_day": {"utilization": -4}
	}`), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.SessionPercent)
	assert.Equal(t, 0.0, snap.WeekPercent)
}
