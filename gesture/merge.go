package gesture

import "sync"

// Merge fans events from every input into one channel, preserving the
// order of each individual input. The returned channel closes once done
// is closed and all forwarders have exited.
func Merge(done <-chan struct{}, inputs ...Input) <-chan Event {
	out := make(chan Event)
	var wg sync.WaitGroup
	for _, in := range inputs {
		if in == nil {
			continue
		}
		wg.Add(1)
		go func(ch <-chan Event) {
			defer wg.Done()
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(in.Events())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
