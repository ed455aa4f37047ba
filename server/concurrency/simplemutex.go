package concurrency

// SimpleMutex is a channel-based lock. Unlike sync.Mutex it supports a
// non-blocking TryLock, which the snapshot ticker uses to skip a cycle
// instead of queuing behind a slow one.
type SimpleMutex chan struct{}

// NewSimpleMutex returns an unlocked mutex.
func NewSimpleMutex() SimpleMutex {
	return make(SimpleMutex, 1)
}

// Lock acquires the mutex, blocking until it is free.
func (s SimpleMutex) Lock() {
	s <- struct{}{}
}

// TryLock acquires the mutex only if it is free.
// Returns true if the lock has been acquired, false otherwise.
func (s SimpleMutex) TryLock() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the mutex.
func (s SimpleMutex) Unlock() {
	<-s
}
