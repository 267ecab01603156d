package engine

import (
	"sync"
	"time"
)

// State is the stage of the pipeline cycle
type State int32

const (
	Idle State = iota
	Capturing
	Transcribing
	Publishing
	Reclaiming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Transcribing:
		return "transcribing"
	case Publishing:
		return "publishing"
	case Reclaiming:
		return "reclaiming"
	default:
		return "unknown"
	}
}

const nameLayout = "20060102-150405"

// Namer hands out artifact file names. Names are UTC second timestamps and
// strictly increase across committed artifacts, so lexical order is creation
// order.
type Namer struct {
	mu      sync.Mutex
	last    time.Time
	pending time.Time
	now     func() time.Time
}

func NewNamer() *Namer {
	return &Namer{now: time.Now}
}

// Next returns the name for the next artifact. The name is not reserved
// until Commit, so failed captures do not push later names ahead of the clock.
func (n *Namer) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := n.now().UTC().Truncate(time.Second)
	if !t.After(n.last) {
		t = n.last.Add(time.Second)
	}
	n.pending = t
	return "recording_" + t.Format(nameLayout) + ".wav"
}

// Commit reserves the name last returned by Next.
func (n *Namer) Commit() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending.After(n.last) {
		n.last = n.pending
	}
}
