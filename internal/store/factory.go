package store

import "fmt"

// Kind selects a Store backend.
type Kind string

const (
	// Memory is a plain map+mutex Store, used by tests and standalone runs.
	Memory Kind = "memory"
	// Redis backs the Store with a real Redis server.
	Redis Kind = "redis"
)

// New builds a Store for kind. addr is only consulted for Redis.
func New(kind Kind, addr string) (Store, error) {
	switch kind {
	case "", Memory:
		return NewMemory(), nil
	case Redis:
		if addr == "" {
			return nil, fmt.Errorf("store: redis backend requires an address")
		}
		return NewRedis(addr), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}
