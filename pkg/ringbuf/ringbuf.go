package ringbuf

// Ring keeps the most recent len(buffer) samples written to it.
type Ring[T any] struct {
	buffer []T
	head   int
	filled int
}

func New[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		buffer: make([]T, size),
	}
}

func (r *Ring[T]) Add(samples []T) {
	for _, s := range samples {
		r.buffer[r.head] = s
		r.head = (r.head + 1) % len(r.buffer)
		if r.filled < len(r.buffer) {
			r.filled++
		}
	}
}

// Read returns the buffered samples oldest first. Before the ring has wrapped
// only the samples written so far are returned.
func (r *Ring[T]) Read() []T {
	out := make([]T, r.filled)
	start := (r.head - r.filled + len(r.buffer)) % len(r.buffer)
	for i := 0; i < r.filled; i++ {
		out[i] = r.buffer[(start+i)%len(r.buffer)]
	}
	return out
}

func (r *Ring[T]) Len() int { return r.filled }

func (r *Ring[T]) Cap() int { return len(r.buffer) }

func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.filled = 0
}
