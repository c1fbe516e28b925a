package ui

import "github.com/bamsammich/siphon/internal/event"

// Event is re-exported so presenters read naturally.
type Event = event.Event

// Re-export event types for convenience.
const (
	DeviceDetected     = event.DeviceDetected
	DeviceUnauthorized = event.DeviceUnauthorized
	DeviceAmbiguous    = event.DeviceAmbiguous
	DeviceDisconnected = event.DeviceDisconnected
	PassStarted        = event.PassStarted
	ScanComplete       = event.ScanComplete
	FileStarted        = event.FileStarted
	FileCompleted      = event.FileCompleted
	FileFailed         = event.FileFailed
	FileSkipped        = event.FileSkipped
	PassComplete       = event.PassComplete
	PassAborted        = event.PassAborted
)
