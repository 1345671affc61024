package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskMatch(t *testing.T) {
	m, err := ParseMask("S11216377_%YYYY%MM%DD%hh%mm.tif", nil)
	require.NoError(t, err)
	assert.True(t, m.HasTime())
	assert.False(t, m.HasWildcard())

	ts, ok := m.Match("S11216377_201709141230.tif")
	require.True(t, ok)
	assert.Equal(t, time.Date(2017, 9, 14, 12, 30, 0, 0, time.UTC), ts)

	_, ok = m.Match("S11216377_201713141230.tif")
	assert.False(t, ok, "month 13")
	_, ok = m.Match("S11216377_20170914123.tif")
	assert.False(t, ok)
	_, ok = m.Match("other.tif")
	assert.False(t, ok)
}

func TestMaskTwoDigitYearAndTimezone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	m, err := ParseMask("focos_%YY%MM%DD.tif", loc)
	require.NoError(t, err)

	ts, ok := m.Match("focos_240131.tif")
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2024, 1, 31, 3, 0, 0, 0, time.UTC)))
}

func TestMaskWildcardAndDir(t *testing.T) {
	m, err := ParseMask("goes/*_%YYYY%MM%DD?.tif", nil)
	require.NoError(t, err)
	assert.Equal(t, "goes", m.Dir())
	assert.True(t, m.HasWildcard())

	ts, ok := m.Match("band13_20240102a.tif")
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	_, err = m.Expand(time.Now())
	assert.Error(t, err)
}

func TestMaskExpand(t *testing.T) {
	m, err := ParseMask("radar/r_%YYYY%MM%DD_%hh%mm%ss.tif", nil)
	require.NoError(t, err)

	name, err := m.Expand(time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "radar/r_20240305_070809.tif", name)
}

func TestMaskWithoutTime(t *testing.T) {
	m, err := ParseMask("latest.tif", nil)
	require.NoError(t, err)
	assert.False(t, m.HasTime())

	ts, ok := m.Match("latest.tif")
	assert.True(t, ok)
	assert.True(t, ts.IsZero())
}

func TestParseMaskInvalid(t *testing.T) {
	for _, mask := range []string{"", "   ", "../etc/%YYYY.tif", ".."} {
		_, err := ParseMask(mask, nil)
		assert.Error(t, err, mask)
	}
}

func TestParseMaskRequiresYear(t *testing.T) {
	for _, mask := range []string{"daily_%MM%DD.tif", "hourly_%hh%mm.tif", "d_%DD*.tif"} {
		_, err := ParseMask(mask, nil)
		assert.ErrorContains(t, err, "no %YYYY or %YY year", mask)
	}

	m, err := ParseMask("daily_%YY%MM%DD.tif", nil)
	require.NoError(t, err)
	ts, ok := m.Match("daily_240101.tif")
	require.True(t, ok)
	assert.True(t, ts.After(time.Time{}))
}

func TestParseMaskDirIsLiteral(t *testing.T) {
	for _, mask := range []string{"%YYYY/%MM/x_%YYYY%MM%DD.tif", "goes/*/b_%YYYY%MM%DD.tif", "r?/a.tif"} {
		_, err := ParseMask(mask, nil)
		assert.ErrorContains(t, err, "only allowed in the file name", mask)
	}

	m, err := ParseMask("radar/sp/r_%YYYY%MM%DD.tif", nil)
	require.NoError(t, err)
	assert.Equal(t, "radar/sp", m.Dir())
}
