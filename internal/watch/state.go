package watch

// State is the loop's position in the device lifecycle.
type State int

const (
	WaitingForDevice State = iota
	DeviceReady
	Transferring
	WaitingForDisconnect
)

var stateNames = [...]string{
	WaitingForDevice:     "waiting-for-device",
	DeviceReady:          "device-ready",
	Transferring:         "transferring",
	WaitingForDisconnect: "waiting-for-disconnect",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
