package store

// Assigner hands out display positions. The first Assign for an identity
// allocates the next number (1, 2, 3, ...); later calls return the same
// number. It is owned by one session and is not safe for concurrent use.
type Assigner struct {
	next   int
	orders map[int64]int
}

// NewAssigner returns an Assigner whose first allocation is 1.
func NewAssigner() *Assigner {
	return &Assigner{next: 1, orders: make(map[int64]int)}
}

// Assign returns the display position of id, allocating one if needed.
func (a *Assigner) Assign(id int64) int {
	if n, ok := a.orders[id]; ok {
		return n
	}
	n := a.next
	a.orders[id] = n
	a.next++
	return n
}

// Lookup returns the position of id without allocating.
func (a *Assigner) Lookup(id int64) (int, bool) {
	n, ok := a.orders[id]
	return n, ok
}

// Len returns how many positions have been allocated.
func (a *Assigner) Len() int { return len(a.orders) }
