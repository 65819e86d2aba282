package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversions(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	ms := ToUnixMs(at)

	assert.Equal(t, int64(1709296200000), ms)
	assert.True(t, FromUnixMs(ms).Equal(at))
	assert.Equal(t, "2024-03-01T12:30:00Z", Format(ms))

	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
	assert.Empty(t, Format(0))
}

func TestNowAndSince(t *testing.T) {
	before := time.Now().UnixMilli()
	now := Now()
	assert.GreaterOrEqual(t, now, before)

	assert.Equal(t, time.Duration(0), Since(0))
	assert.GreaterOrEqual(t, Since(now-1500), 1500*time.Millisecond)
}
