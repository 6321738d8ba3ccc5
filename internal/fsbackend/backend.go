// Package fsbackend abstracts the durable storage the harness writes
// offloaded context, todo lists, and memory files to, so the same session
// logic runs unchanged over a local directory or a shared SQL-backed store.
package fsbackend

import "context"

// Backend is the storage contract every harness component writing durable
// state (context offload, todo lists, /memories/AGENTS.md) depends on.
type Backend interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}
