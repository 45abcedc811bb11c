// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bus models the hypervisor-hosted key/value store (§4.A) as
// a narrow interface: Subscribe streams every (path, value) change
// under a root path, with absence signaling deletion; Get/Put read
// and write individual keys. The real bus's wire protocol is out of
// scope (§1); production wiring is a one-file adapter behind this
// interface.
package bus

import "context"

// Event is one change observed under a subscribed path prefix. A
// deletion is signaled by Deleted=true with Value empty.
type Event struct {
	Path    string
	Value   string
	Deleted bool
}

// Bus is the subscribable, path-keyed store every component reads
// instance registration and netflow-endpoint data from.
type Bus interface {
	// Subscribe streams every event under root until ctx is canceled.
	// The returned channel is closed when the stream ends.
	Subscribe(ctx context.Context, root string) (<-chan Event, error)
	// Get fetches the current value at path, if any.
	Get(ctx context.Context, path string) (value string, ok bool, err error)
	// Put writes value at path, creating or overwriting it.
	Put(ctx context.Context, path, value string) error
}
