// Package buffer provides a contiguous growable container used for the
// read, write and framing buffers of SMTP sessions.
package buffer

// Vector is a contiguous, reallocation-amortized sequence of elements.
//
// Growth always at least doubles the capacity, so a run of appends costs
// amortized O(1) per element. Storage is never released by Clear; use Close
// to drop it.
type Vector[T any] struct {
	data []T
}

// New returns an empty vector with room for capacity elements.
func New[T any](capacity int) *Vector[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Vector[T]{data: make([]T, 0, capacity)}
}

// Len returns the number of stored elements.
func (v *Vector[T]) Len() int { return len(v.data) }

// Cap returns the allocated capacity.
func (v *Vector[T]) Cap() int { return cap(v.data) }

// Slice returns the stored elements. The slice aliases the vector's storage
// and is invalidated by the next mutating call.
func (v *Vector[T]) Slice() []T { return v.data }

// At returns the element at index i.
func (v *Vector[T]) At(i int) T { return v.data[i] }

// Push appends a single element.
func (v *Vector[T]) Push(item T) {
	v.ReserveAtLeast(len(v.data) + 1)
	v.data = append(v.data, item)
}

// Append copies items to the end of the vector. It never truncates: the
// capacity is grown first so the whole of items fits.
func (v *Vector[T]) Append(items ...T) {
	v.ReserveAtLeast(len(v.data) + len(items))
	v.data = append(v.data, items...)
}

// ReserveAtLeast makes sure the capacity is at least n. It is a no-op if the
// vector is already large enough.
func (v *Vector[T]) ReserveAtLeast(n int) {
	if n <= cap(v.data) {
		return
	}
	newCap := 2 * cap(v.data)
	if newCap < n {
		newCap = n
	}
	grown := make([]T, len(v.data), newCap)
	copy(grown, v.data)
	v.data = grown
}

// Spare returns the unused tail of the allocated storage, data[len:cap].
// Callers write into it and then commit the written elements with Extend.
func (v *Vector[T]) Spare() []T {
	return v.data[len(v.data):cap(v.data)]
}

// Extend grows the length by n elements previously written through Spare.
func (v *Vector[T]) Extend(n int) {
	v.data = v.data[:len(v.data)+n]
}

// RemoveAt deletes the element at index i by moving the last element into
// its place. Order is not preserved.
func (v *Vector[T]) RemoveAt(i int) {
	last := len(v.data) - 1
	v.data[i] = v.data[last]
	var zero T
	v.data[last] = zero
	v.data = v.data[:last]
}

// StableRemoveAt deletes the element at index i, shifting the tail left by
// one so the remaining elements keep their relative order.
func (v *Vector[T]) StableRemoveAt(i int) {
	copy(v.data[i:], v.data[i+1:])
	last := len(v.data) - 1
	var zero T
	v.data[last] = zero
	v.data = v.data[:last]
}

// Consume removes the first n elements, keeping the order of the rest.
func (v *Vector[T]) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(v.data) {
		v.Clear()
		return
	}
	rest := copy(v.data, v.data[n:])
	clear(v.data[rest:])
	v.data = v.data[:rest]
}

// Clear resets the length to zero without releasing storage.
func (v *Vector[T]) Clear() {
	clear(v.data)
	v.data = v.data[:0]
}

// Close releases the storage. The vector may be reused afterwards and will
// allocate again on demand.
func (v *Vector[T]) Close() {
	v.data = nil
}
