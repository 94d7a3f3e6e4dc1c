package controller

// ring is a bounded buffer of output lines. Once full, the oldest line is
// overwritten; consumers always see the most recent window.
type ring struct {
	lines []string
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 2000
	}
	return &ring{lines: make([]string, capacity)}
}

func (r *ring) append(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the buffered lines in arrival order.
func (r *ring) snapshot() []string {
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.lines[:r.next])
		return out
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	out = append(out, r.lines[:r.next]...)
	return out
}
