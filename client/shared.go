package client

import (
	"sync"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

var (
	sharedMu sync.Mutex
	shared   *Client
)

// NewShared creates the process-wide client. If one already exists it is
// returned together with an error and no new client is created.
func NewShared(b flagcore.Boundary, sdkKey string, opts *Options) (*Client, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared != nil {
		return shared, errors.New(errors.PhaseCreate, errors.KindInvalidInput).
			Target("shared client").
			Detail("shared client already exists").
			Build()
	}

	c, err := New(b, sdkKey, opts)
	if err != nil {
		return nil, err
	}
	shared = c
	return c, nil
}

// Shared returns the process-wide client, or nil.
func Shared() *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}

// HasShared reports whether a process-wide client is set.
func HasShared() bool {
	return Shared() != nil
}

// RemoveShared forgets the process-wide client and returns it. The client is
// neither shut down nor closed.
func RemoveShared() *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	c := shared
	shared = nil
	return c
}
