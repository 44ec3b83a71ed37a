package tick_test

import (
	"testing"

	"github.com/embedded-go/rtoscore/tick"
	"github.com/stretchr/testify/require"
)

func TestTimePoint_AddSubRoundTrip(t *testing.T) {
	start := tick.TimePoint(100)
	later := start.Add(tick.Duration(25))
	require.Equal(t, tick.TimePoint(125), later)
	require.Equal(t, tick.Duration(25), later.Sub(start))
	require.Equal(t, tick.Duration(-25), start.Sub(later))
}

func TestTimePoint_BeforeAfter(t *testing.T) {
	a := tick.TimePoint(10)
	b := tick.TimePoint(20)
	require.True(t, a.Before(b))
	require.False(t, b.Before(a))
	require.True(t, b.After(a))
	require.False(t, a.After(b))
	require.False(t, a.Before(a))
	require.False(t, a.After(a))
}

func TestTimePoint_AddNegativeDuration(t *testing.T) {
	start := tick.TimePoint(50)
	require.Equal(t, tick.TimePoint(40), start.Add(tick.Duration(-10)))
}
