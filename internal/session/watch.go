package session

import "context"

// Updates returns a channel receiving a snapshot after every change to the
// cache. A slow reader only misses intermediate snapshots, never the latest.
// The channel is closed when ctx is done.
func (s *Store) Updates(ctx context.Context) <-chan Snapshot {
	ch := s.addWatcher()
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer s.removeWatcher(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-ch:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// WaitFor blocks until the cached state satisfies cond or ctx is done
func (s *Store) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	ch := s.addWatcher()
	defer s.removeWatcher(ch)

	snap := s.Snapshot()
	for !cond(snap) {
		select {
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		case snap = <-ch:
		}
	}
	return snap, nil
}

func (s *Store) addWatcher() chan Snapshot {
	ch := make(chan Snapshot, 1)
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers[ch] = struct{}{}
	return ch
}

func (s *Store) removeWatcher(ch chan Snapshot) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	delete(s.watchers, ch)
}

// notify hands the current snapshot to every watcher, replacing any snapshot
// a watcher has not read yet
func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}

	snap := s.Snapshot()
	for ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
