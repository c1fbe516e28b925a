package ui

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0 B/s"},
		{-5, "0 B/s"},
		{800, "800 B/s"},
		{2048, "2.00 KB/s"},
		{40 * 1024, "40.0 KB/s"},
		{3 * 1024 * 1024, "3.00 MB/s"},
		{250 * 1024 * 1024, "250 MB/s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRate(tt.input))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{75 * time.Second, "1m 15s"},
		{2*time.Hour + 5*time.Second, "2h 00m 05s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.input))
		})
	}
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "--", FormatETA(0))
	assert.Equal(t, "--", FormatETA(-time.Minute))
	assert.Equal(t, "45s", FormatETA(45*time.Second))
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{48917, "48,917"},
		{1234567, "1,234,567"},
		{-2500, "-2,500"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCount(tt.input))
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a9c1e", ShortID("3f2a9c1e-77aa-4b1c-9d0e-1234567890ab"))
	assert.Equal(t, "abc", ShortID("abc"))
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"IMG_0001.jpg", 20, "IMG_0001.jpg"},
		{"IMG_0001.jpg", 12, "IMG_0001.jpg"},
		{"2024/06/IMG_0001.jpg", 15, "...IMG_0001.jpg"},
		{"abcdef", 3, "def"},
		{"ßßßßßß", 5, "...ßß"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncatePath(tt.in, tt.width), "%q/%d", tt.in, tt.width)
	}
}

func TestTerminalWidth_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	w, ok := TerminalWidth(f)
	assert.False(t, ok)
	assert.Zero(t, w)
}
