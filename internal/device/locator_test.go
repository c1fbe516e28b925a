package device

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/siphon/internal/filter"
)

type fakeEnum struct {
	devices []USBDevice
	err     error
}

func (f *fakeEnum) List(context.Context) ([]USBDevice, error) {
	return f.devices, f.err
}

var (
	galaxy = USBDevice{Bus: 3, Device: 26, ID: "04e8:6860", Description: "Samsung Galaxy (MTP)"}
	mouse  = USBDevice{Bus: 1, Device: 4, ID: "046d:c52b", Description: "Logitech Receiver"}
)

const (
	galaxyMount = "/run/user/1000/gvfs/mtp:host=%5Busb%3A003%2C026%5D"
	galaxyRoot  = galaxyMount + "/Phone/DCIM/Camera"
)

func newTestLocator(enum Enumerator, fsys afero.Fs, mutate ...func(*Options)) *Locator {
	opts := Options{
		Matcher:   Matcher{Name: "galaxy"},
		SourceDir: "Phone/DCIM/Camera",
		Recursive: true,
		UID:       1000,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewLocator(enum, fsys, opts)
}

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

func TestPoll_Absent(t *testing.T) {
	t.Parallel()
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{mouse}}, afero.NewMemMapFs())

	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Absent, det.State)
	assert.Nil(t, det.Handle)
}

func TestPoll_EnumerationError(t *testing.T) {
	t.Parallel()
	loc := newTestLocator(&fakeEnum{err: errors.New("boom")}, afero.NewMemMapFs())

	_, err := loc.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumerate usb devices")
}

func TestPoll_UnauthorizedWithoutMount(t *testing.T) {
	t.Parallel()
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{mouse, galaxy}}, afero.NewMemMapFs())

	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unauthorized, det.State)
	assert.Nil(t, det.Handle)
	assert.Equal(t, []USBDevice{galaxy}, det.Candidates)
}

func TestPoll_UnauthorizedMountWithoutSourceRoot(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(galaxyMount, 0o755))
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)

	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unauthorized, det.State)
}

func TestPoll_Ready(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(galaxyRoot, 0o755))
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)

	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, det.State)
	require.NotNil(t, det.Handle)
	assert.Equal(t, galaxyMount, det.Handle.MountPath)
	assert.Equal(t, galaxyRoot, det.Handle.Root)
	assert.Equal(t, galaxy, det.Handle.Device)
}

func TestPoll_GlobTemplate(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/run/user/1000/gvfs/mtp:host=SAMSUNG_SAMSUNG_Android_R58N/Phone/DCIM/Camera", 0o755))
	require.NoError(t, fsys.MkdirAll("/run/user/1000/gvfs/smb-share:server=nas", 0o755))
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys, func(o *Options) {
		o.MountTemplate = "/run/user/{uid}/gvfs/mtp:host=*"
	})

	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, det.State)
	assert.Equal(t, "/run/user/1000/gvfs/mtp:host=SAMSUNG_SAMSUNG_Android_R58N", det.Handle.MountPath)
}

// Not parallel: swaps the default slog logger.
func TestPoll_AmbiguousPicksLowestBusDevice(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	second := USBDevice{Bus: 1, Device: 9, ID: "04e8:6860", Description: "Samsung Galaxy Tab (MTP)"}
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/run/user/1000/gvfs/mtp:host=%5Busb%3A001%2C009%5D/Phone/DCIM/Camera", 0o755))
	require.NoError(t, fsys.MkdirAll(galaxyRoot, 0o755))
	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy, second}}, fsys)

	for range 3 {
		det, err := loc.Poll(context.Background())
		require.NoError(t, err)
		require.Equal(t, Ready, det.State)
		assert.Equal(t, second, det.Handle.Device)
		assert.Equal(t, []USBDevice{second, galaxy}, det.Candidates)
	}
	assert.Contains(t, buf.String(), "ambiguous device")
	assert.Contains(t, buf.String(), "Bus 001 Device 009")
}

func TestAmbiguousError(t *testing.T) {
	t.Parallel()
	err := &AmbiguousError{Chosen: mouse, Candidates: []USBDevice{mouse, galaxy}}
	assert.Contains(t, err.Error(), "2 devices match")
	assert.Contains(t, err.Error(), galaxy.String())
}

func readyHandle(t *testing.T, fsys afero.Fs, loc *Locator) *Handle {
	t.Helper()
	det, err := loc.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, det.State)
	return det.Handle
}

func TestListFiles_LexicalRecursive(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/video1.mp4", "vvvv")
	writeFile(t, fsys, galaxyRoot+"/photo1.jpg", "pp")
	writeFile(t, fsys, galaxyRoot+"/burst/b1.jpg", "b")
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.Chtimes(galaxyRoot+"/photo1.jpg", mtime, mtime))

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)
	h := readyHandle(t, fsys, loc)

	files, err := loc.ListFiles(context.Background(), h)
	require.NoError(t, err)
	rels := make([]string, 0, len(files))
	for _, f := range files {
		rels = append(rels, f.RelPath)
	}
	assert.Equal(t, []string{"burst/b1.jpg", "photo1.jpg", "video1.mp4"}, rels)
	assert.Equal(t, int64(2), files[1].Size)
	assert.Equal(t, galaxyRoot+"/photo1.jpg", files[1].Path)
	assert.True(t, files[1].ModTime.Equal(mtime))

	// restartable
	again, err := loc.ListFiles(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, files, again)
}

func TestListFiles_Flat(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/photo1.jpg", "p")
	writeFile(t, fsys, galaxyRoot+"/burst/b1.jpg", "b")

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys, func(o *Options) {
		o.Recursive = false
	})
	files, err := loc.ListFiles(context.Background(), readyHandle(t, fsys, loc))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "photo1.jpg", files[0].RelPath)
}

func TestListFiles_Filtered(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/photo1.jpg", "p")
	writeFile(t, fsys, galaxyRoot+"/.trashed-1700000000-photo0.jpg", "p")
	writeFile(t, fsys, galaxyRoot+"/.thumbnails/t.jpg", "t")
	writeFile(t, fsys, galaxyRoot+"/notes.txt", "n")

	chain := filter.NewChain()
	chain.SkipHidden(true)
	chain.IgnoreCase(true)
	require.NoError(t, chain.AddExclude("*.txt"))

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys, func(o *Options) {
		o.Filter = chain
	})
	files, err := loc.ListFiles(context.Background(), readyHandle(t, fsys, loc))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "photo1.jpg", files[0].RelPath)
}

func TestWalk_RootVanishes(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/a.jpg", "a")
	writeFile(t, fsys, galaxyRoot+"/b.jpg", "b")

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)
	h := readyHandle(t, fsys, loc)

	err := loc.Walk(context.Background(), h, func(FileInfo) error {
		return fsys.RemoveAll(galaxyMount)
	})
	require.ErrorIs(t, err, ErrUnreachable)

	_, err = loc.ListFiles(context.Background(), h)
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/a.jpg", "a")
	writeFile(t, fsys, galaxyRoot+"/b.jpg", "b")

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)
	stop := errors.New("stop")
	calls := 0
	err := loc.Walk(context.Background(), readyHandle(t, fsys, loc), func(FileInfo) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalk_Cancelled(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, galaxyRoot+"/a.jpg", "a")

	loc := newTestLocator(&fakeEnum{devices: []USBDevice{galaxy}}, fsys)
	h := readyHandle(t, fsys, loc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loc.Walk(ctx, h, func(FileInfo) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnected(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(galaxyRoot, 0o755))
	enum := &fakeEnum{devices: []USBDevice{galaxy}}
	loc := newTestLocator(enum, fsys)
	h := readyHandle(t, fsys, loc)

	assert.True(t, loc.Connected(context.Background(), h))

	enum.err = errors.New("lsusb missing")
	assert.True(t, loc.Connected(context.Background(), h), "falls back to the mount")

	enum.err = nil
	enum.devices = []USBDevice{mouse}
	assert.False(t, loc.Connected(context.Background(), h))

	enum.devices = []USBDevice{galaxy}
	require.NoError(t, fsys.RemoveAll(galaxyMount))
	assert.False(t, loc.Connected(context.Background(), h))
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "unauthorized", Unauthorized.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "State(7)", State(7).String())
}
