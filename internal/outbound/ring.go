package outbound

// ring is a fixed-capacity buffer that overwrites its oldest element when full.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(item T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// snapshot returns the elements oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.start+i)%len(r.items)])
	}
	return out
}

func (r *ring[T]) len() int {
	return r.size
}
