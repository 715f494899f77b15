package remote

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by checkout after the pool has exited.
var ErrPoolClosed = errors.New("pool closed")

// Pool manages a fixed set of remote clients with next-available checkout.
// It mirrors driving several host instances side by side: callers borrow an
// idle instance, use it, and return it.
type Pool struct {
	clients []*Client
	slots   chan int
	done    chan struct{}
}

// NewPool creates a Pool over the given clients, all initially available.
func NewPool(clients ...*Client) *Pool {
	p := &Pool{
		clients: clients,
		slots:   make(chan int, len(clients)),
		done:    make(chan struct{}),
	}
	for i := range clients {
		p.slots <- i
	}
	return p
}

// Len returns the number of managed clients.
func (p *Pool) Len() int {
	return len(p.clients)
}

// Client returns the i-th managed client.
func (p *Pool) Client(i int) *Client {
	return p.clients[i]
}

// NextAvailable blocks until a client is free and checks it out, returning
// the client and its index. The caller must Release the index when done.
func (p *Pool) NextAvailable(ctx context.Context) (*Client, int, error) {
	select {
	case i := <-p.slots:
		return p.clients[i], i, nil
	case <-p.done:
		return nil, 0, ErrPoolClosed
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Release returns a checked-out client to the pool.
func (p *Pool) Release(i int) {
	select {
	case p.slots <- i:
	case <-p.done:
	}
}

// Exit closes the pool and exits every client. Clients that already exited
// are skipped.
func (p *Pool) Exit(ctx context.Context, force bool) error {
	close(p.done)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range p.clients {
		c := c
		g.Go(func() error {
			if c.Exited() {
				return nil
			}
			if err := c.Exit(ctx, force); err != nil && !errors.Is(err, ErrClientExited) {
				return fmt.Errorf("pool exit: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
