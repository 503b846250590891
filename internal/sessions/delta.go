package sessions

import "time"

// DeltaKind says whether a delta records a session open or close.
type DeltaKind uint8

const (
	DeltaOpened DeltaKind = iota
	DeltaClosed
)

// Delta is the per-event derivative consumed by the aggregator. Dimension
// values are captured at event time because a closed session is already gone
// from the live table when the minute is folded.
type Delta struct {
	Kind    DeltaKind
	Server  string
	Channel string
	Country string
	Proto   string
	UAClass string
	UserID  string

	// Bytes is the transfer attributed to the close minute; zero for opens.
	Bytes int64
	// WatchTime is closed_at minus opened_at, clamped at zero; zero for opens.
	WatchTime time.Duration
	// At is the event's own timestamp, kept for diagnostics.
	At time.Time
}

// Key returns the delta's bucket key for one dimension.
func (d *Delta) Key(dim Dimension) string {
	switch dim {
	case DimServer:
		return d.Server
	case DimChannel:
		return d.Channel
	case DimCountry:
		return d.Country
	case DimProtocol:
		return d.Proto
	case DimUserAgentClass:
		return d.UAClass
	}
	return ""
}

// deltaRing is a fixed-capacity FIFO for the current minute's deltas. When
// full, the oldest entry is overwritten. Callers hold the manager mutex.
type deltaRing struct {
	buf     []Delta
	head    int
	n       int
	dropped int
}

func newDeltaRing(capacity int) *deltaRing {
	return &deltaRing{buf: make([]Delta, capacity)}
}

func (r *deltaRing) push(d Delta) {
	if r.n == len(r.buf) {
		r.buf[r.head] = d
		r.head = (r.head + 1) % len(r.buf)
		r.dropped++
		return
	}
	r.buf[(r.head+r.n)%len(r.buf)] = d
	r.n++
}

// drain returns the buffered deltas in arrival order plus the number dropped
// since the last drain, then resets the ring.
func (r *deltaRing) drain() ([]Delta, int) {
	out := make([]Delta, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	dropped := r.dropped
	r.head, r.n, r.dropped = 0, 0, 0
	return out, dropped
}
