package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every config and data location at fresh temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func baseArgs(dir string, extra ...string) []string {
	return append(extra,
		"--device", "Galaxy",
		"--dest", filepath.Join(dir, "dst"),
		"--ledger", filepath.Join(dir, "ledger.log"),
	)
}

func TestExecute_CorruptLedgerRefusesToStart(t *testing.T) {
	dir := isolate(t)
	ledgerPath := filepath.Join(dir, "ledger.log")
	require.NoError(t, os.WriteFile(ledgerPath, []byte("this is not a ledger\nneither is this\n"), 0o600))
	// any attempt to enumerate devices would fail loudly
	t.Setenv("SIPHON_DEVICE_LSUSB_COMMAND", "false")

	assert.Equal(t, exitStartup, execute(baseArgs(dir, "once")))
	assert.Equal(t, exitStartup, execute(baseArgs(dir, "ledger", "check")))

	data, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.Equal(t, "this is not a ledger\nneither is this\n", string(data), "ledger left untouched")
}

func TestExecute_InvalidConfig(t *testing.T) {
	dir := isolate(t)
	assert.Equal(t, exitStartup, execute([]string{"once", "--dest", filepath.Join(dir, "dst")}))
	assert.Equal(t, exitStartup, execute(baseArgs(dir, "once", "--backend", "yaml")))
}

func TestExecute_OnceWithoutDevice(t *testing.T) {
	dir := isolate(t)
	t.Setenv("SIPHON_DEVICE_LSUSB_COMMAND", "true")

	assert.Equal(t, exitRuntime, execute(baseArgs(dir, "once")))
}

func TestExecute_LedgerImportAndCheck(t *testing.T) {
	dir := isolate(t)
	legacy := filepath.Join(dir, "transferred_files.txt")
	require.NoError(t, os.WriteFile(legacy, []byte("/home/me/Pictures/IMG_1.jpg\n/home/me/Pictures/IMG_2.jpg\n"), 0o600))

	assert.Equal(t, exitOK, execute(baseArgs(dir, "ledger", "import", legacy)))
	assert.Equal(t, exitOK, execute(baseArgs(dir, "ledger", "check")))
	assert.Equal(t, exitOK, execute(baseArgs(dir, "ledger", "list", "--json")))
}

func TestExecute_ConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "siphon.toml")

	assert.Equal(t, exitOK, execute(baseArgs(dir, "config", "init", "--config", path)))
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, exitRuntime, execute(baseArgs(dir, "config", "init", "--config", path)), "existing file kept")
	assert.Equal(t, exitOK, execute([]string{"config", "show", "--config", path}))
}

func TestExecute_UnknownFlag(t *testing.T) {
	isolate(t)
	assert.Equal(t, exitStartup, execute([]string{"--no-such-flag"}))
}
