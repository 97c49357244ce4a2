package scratchpad

import "fmt"

// WatchCallback is invoked for each change notification. sectionID is ""
// when the subscription is project-wide.
type WatchCallback func(Notification)

// Watch subscribes to changes for a project (optionally scoped to one
// section) and returns an unsubscribe handle. Requires a
// Watcher to have been attached via WithWatcher at construction time.
func (s *Store) Watch(projectID, sectionID string, callback WatchCallback) (func(), error) {
	if s.watcher == nil {
		return nil, fmt.Errorf("scratchpad: watch requires a Watcher (see WithWatcher)")
	}
	events, cancel := s.watcher.Subscribe(projectID, sectionID)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case n, ok := <-events:
				if !ok {
					return
				}
				callback(n)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		cancel()
	}, nil
}
