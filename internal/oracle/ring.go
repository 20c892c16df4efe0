package oracle

import "time"

// observation is one timestamped venue price sample.
type observation struct {
	price float64
	at    time.Time
}

// obsRing is a bounded ring of observations ordered by insertion time. When
// full, the oldest sample is overwritten.
type obsRing struct {
	buf   []observation
	head  int // next write slot
	count int
}

func newObsRing(capacity int) *obsRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &obsRing{buf: make([]observation, capacity)}
}

func (r *obsRing) push(o observation) {
	r.buf[r.head] = o
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// latest returns the most recent observation, or false when empty.
func (r *obsRing) latest() (observation, bool) {
	if r.count == 0 {
		return observation{}, false
	}
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// since returns the observations at or after cutoff, oldest first.
func (r *obsRing) since(cutoff time.Time) []observation {
	if r.count == 0 {
		return nil
	}
	out := make([]observation, 0, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		o := r.buf[(start+i)%len(r.buf)]
		if !o.at.Before(cutoff) {
			out = append(out, o)
		}
	}
	return out
}
