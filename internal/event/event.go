package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	DeviceDetected Type = iota + 1
	DeviceUnauthorized
	DeviceAmbiguous
	DeviceDisconnected
	PassStarted
	ScanComplete
	FileStarted
	FileCompleted
	FileFailed
	FileSkipped
	PassComplete
	PassAborted
)

var typeNames = [...]string{
	DeviceDetected:     "DeviceDetected",
	DeviceUnauthorized: "DeviceUnauthorized",
	DeviceAmbiguous:    "DeviceAmbiguous",
	DeviceDisconnected: "DeviceDisconnected",
	PassStarted:        "PassStarted",
	ScanComplete:       "ScanComplete",
	FileStarted:        "FileStarted",
	FileCompleted:      "FileCompleted",
	FileFailed:         "FileFailed",
	FileSkipped:        "FileSkipped",
	PassComplete:       "PassComplete",
	PassAborted:        "PassAborted",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the locator, executor or loop.
type Event struct {
	Type      Type
	Timestamp time.Time
	Device    string // device descriptor
	PassID    string
	Path      string // path relative to the device source root
	Size      int64  // file size
	Total     int64  // files planned (ScanComplete) or copied (PassComplete)
	TotalSize int64  // bytes planned (ScanComplete) or copied (PassComplete)
	Error     error
}

// Emitter sends events to an optional channel. A nil Emitter or a nil
// channel drops events.
type Emitter chan<- Event

// Emit stamps ev and sends it, giving up if done is closed first.
func (e Emitter) Emit(done <-chan struct{}, ev Event) {
	if e == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e <- ev:
	case <-done:
	}
}
