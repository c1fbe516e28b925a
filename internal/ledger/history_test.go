package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "successful_transfers.log")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, AppendHistory(path, at, 12))
	require.NoError(t, AppendHistory(path, at.Add(time.Hour), 3))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-05-01T12:00:00Z transferred files: 12", lines[0])
	assert.Equal(t, "2024-05-01T13:00:00Z transferred files: 3", lines[1])
}

func TestImportLegacy(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.log"), BackendLog)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Record(testRecord("20240101_120000.jpg")))

	input := strings.Join([]string{
		"/home/me/phone/20240101_120000.jpg",
		"",
		"/home/me/phone/20240102_090000.mp4",
		"/home/me/phone/20240103_101010.jpg",
		"/home/me/phone/20240102_090000.mp4",
	}, "\n")

	added, err := ImportLegacy(l, strings.NewReader(input), "legacy")
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Contains("20240102_090000.mp4"))
	assert.True(t, l.Contains("20240103_101010.jpg"))

	recs, err := l.Records()
	require.NoError(t, err)
	assert.Equal(t, "/home/me/phone/20240102_090000.mp4", recs[1].Destination)
	assert.Equal(t, "legacy", recs[1].Device)
}
