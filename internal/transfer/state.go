package transfer

import "fmt"

// Kind enumerates per-URL transfer states.
type Kind int

const (
	Idle Kind = iota
	Downloading
	Paused
	WaitingForConnectivity
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Downloading:
		return "downloading"
	case Paused:
		return "paused"
	case WaitingForConnectivity:
		return "waiting for connectivity"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// UnknownSize marks a transfer whose total length the server did not report.
const UnknownSize int64 = -1

// State is the observable status of one URL.
type State struct {
	Kind         Kind
	BytesWritten int64
	BytesTotal   int64 // UnknownSize when not reported
}

// Progress returns the completed fraction in [0,1], or 0 when the total is unknown.
func (s State) Progress() float64 {
	if s.BytesTotal <= 0 {
		return 0
	}
	p := float64(s.BytesWritten) / float64(s.BytesTotal)
	if p > 1 {
		return 1
	}
	return p
}

// Event is delivered to an Observer on state changes, throttled progress
// updates, completion and failure.
type Event struct {
	URL   string
	State State
	Path  string // final file, set on completion
	Err   error  // set when the transfer failed
}

// Observer receives transfer events. It is called from transfer goroutines
// and must not block.
type Observer func(Event)
