package batch

import "sync"

// Cursor hands out file indices in increasing order, each at most once.
// Cancel lowers the cutoff to the next unclaimed index.
type Cursor struct {
	mu     sync.Mutex
	next   int
	cutoff int
	total  int
}

// NewCursor returns a cursor over [0, total).
func NewCursor(total int) *Cursor {
	if total < 0 {
		total = 0
	}
	return &Cursor{cutoff: total, total: total}
}

// Claim reserves the next index. ok is false once the cursor is exhausted
// or cancelled.
func (c *Cursor) Claim() (index int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= c.cutoff {
		return 0, false
	}
	index = c.next
	c.next++
	return index, true
}

// Cancel stops further claims. Indices already claimed are unaffected.
func (c *Cursor) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoff = min(c.cutoff, c.next)
}

// Claimed returns how many indices have been handed out.
func (c *Cursor) Claimed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Cutoff returns the current exclusive upper bound for claims.
func (c *Cursor) Cutoff() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cutoff
}

// Total returns the number of items the cursor was built over.
func (c *Cursor) Total() int {
	return c.total
}

// Cancelled reports whether Cancel cut work short. A Cancel that arrives
// after every index was claimed reports false.
func (c *Cursor) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cutoff < c.total
}
