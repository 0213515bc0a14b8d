package registry

import (
	"fmt"
	"sync"
)

// singletons is the C8 custom singleton registry's backing store: the one
// process-wide lock the fabric takes outside of an actor's own mailbox,
// because it's reached from arbitrary goroutines during bootstrap (§5).
var (
	singletonsMu sync.Mutex
	singletons   = make(map[string]any)
)

// StartServiceWith constructs and registers the singleton for key
// atomically, returning the existing instance if one is already running.
// factory is only invoked when nothing is registered yet.
func StartServiceWith[T any](key string, factory func() T) T {
	singletonsMu.Lock()
	defer singletonsMu.Unlock()

	if existing, ok := singletons[key]; ok {
		return existing.(T)
	}

	instance := factory()
	singletons[key] = instance
	return instance
}

// FromCustomRegistry looks up the singleton registered under key. It
// panics if nothing has been registered yet: callers are required to have
// called StartServiceWith first, which lets late-started components
// (connection handles) reach the supervisor and gossip engine without
// plumbing handles through constructors (§4.7).
func FromCustomRegistry[T any](key string) T {
	singletonsMu.Lock()
	defer singletonsMu.Unlock()

	existing, ok := singletons[key]
	if !ok {
		panic(fmt.Sprintf("registry: singleton %q not started", key))
	}
	return existing.(T)
}

// Lookup is the non-panicking form of FromCustomRegistry, for callers that
// can degrade gracefully (e.g. skip a send) when the singleton hasn't
// started yet rather than crash.
func Lookup[T any](key string) (result T, ok bool) {
	singletonsMu.Lock()
	defer singletonsMu.Unlock()

	existing, found := singletons[key]
	if !found {
		return result, false
	}
	typed, ok := existing.(T)
	return typed, ok
}

// clearSingletons resets the backing store. Test-only: production code
// never needs to un-register a singleton mid-process.
func clearSingletons() {
	singletonsMu.Lock()
	defer singletonsMu.Unlock()
	singletons = make(map[string]any)
}
