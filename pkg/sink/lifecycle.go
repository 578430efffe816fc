package sink

import "context"

// Close stops accepting events, flushes what is queued and waits for the
// background loop to exit. It is safe to call more than once and from many
// goroutines; every call waits for the same drain. Calling it from a Mapper
// or IndexNameFactory deadlocks.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		// The queue is closed before the loop can observe the stop flag, so
		// every accepted event is part of the final drain.
		s.queue.Close()
		s.state.CompareAndSwap(int32(Running), int32(Draining))
		s.stopping.Store(true)
		close(s.wake)
	})
	<-s.done
	return nil
}

// CloseOnDone closes the sink when ctx is cancelled. Use Done to wait for
// the drain to finish.
func (s *Sink) CloseOnDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
}

// Done is closed once the sink has stopped and flushed.
func (s *Sink) Done() <-chan struct{} {
	return s.done
}
