package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "TM", "cyan", "1.2.3")
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Greater(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], ColorCyan))
	assert.Contains(t, out, "version 1.2.3")
}

func TestColorCodeFallback(t *testing.T) {
	assert.Equal(t, ColorReset, colorCode("purple"))
	assert.Equal(t, ColorRed, colorCode("red"))
}
