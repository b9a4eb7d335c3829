package utils

/*
BufferedChan is an unbounded FIFO channel: sends on the inlet never wait for a reader, values are queued until the outlet is drained.

A goroutine moves values from the inlet to the outlet. Closing the inlet with Close stops it: values still queued are dropped and the outlet is closed.
*/
type BufferedChan[T any] struct {
	in  chan T
	out chan T
}

// NewBufferedChan creates an empty BufferedChan and starts its goroutine.
func NewBufferedChan[T any]() *BufferedChan[T] {
	b := &BufferedChan[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go b.pump()
	return b
}

func (b *BufferedChan[T]) Inlet() chan<- T {
	return b.in
}

func (b *BufferedChan[T]) Outlet() <-chan T {
	return b.out
}

// Close closes the inlet. Sending afterwards panics.
func (b *BufferedChan[T]) Close() {
	close(b.in)
}

func (b *BufferedChan[T]) pump() {
	defer close(b.out)

	var queue []T
	for {
		// out stays nil, disabling its case, while there is nothing to hand out.
		var out chan T
		var head T
		if len(queue) > 0 {
			out, head = b.out, queue[0]
		}

		select {
		case v, ok := <-b.in:
			if !ok {
				return
			}
			queue = append(queue, v)
		case out <- head:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		}
	}
}
