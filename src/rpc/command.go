package rpc

import (
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Command is the future of one dispatched request: completed exactly once,
// by the transport response, the persistent poller, or a forced teardown.
// -----------------------------------------------------------------------------

type Command struct {
	id   string
	done chan struct{}
	once sync.Once

	response interface{}
	err      error
}

func newCommand(id string) *Command {
	return &Command{
		id:   id,
		done: make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// ID returns the request id.
func (c *Command) ID() string {
	return c.id
}

// Done is closed when the command completed, successfully or not.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. Only valid after Done is closed.
func (c *Command) Result() (interface{}, error) {
	return c.response, c.err
}

// Wait blocks until completion or context cancellation.
func (c *Command) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-c.done:
		return c.response, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// -----------------------------------------------------------------------------

// complete resolves the future. Later calls are no-ops.
func (c *Command) complete(response interface{}, err error) {
	c.once.Do(func() {
		c.response = response
		c.err = err
		close(c.done)
	})
}
