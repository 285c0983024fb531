package replay

import (
	"context"
	"sync"
)

// pass is one flush run shared by every caller waiting on it. Its context
// carries no deadline or cancellation from any single caller; it is cancelled
// once every caller that joined has given up.
type pass struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	waiting int
}

func newPass(ctx context.Context) *pass {
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &pass{ctx: pctx, cancel: cancel}
}

// join counts ctx as waiting on the pass until ctx is done or leave is called.
func (p *pass) join(ctx context.Context) (leave func()) {
	p.mu.Lock()
	p.waiting++
	p.mu.Unlock()

	if ctx.Err() != nil {
		p.abandon()
		return func() {}
	}
	stop := context.AfterFunc(ctx, p.abandon)
	return func() {
		if stop() {
			p.mu.Lock()
			p.waiting--
			p.mu.Unlock()
		}
	}
}

func (p *pass) abandon() {
	p.mu.Lock()
	p.waiting--
	last := p.waiting == 0
	p.mu.Unlock()

	if last {
		p.cancel()
	}
}

func (p *pass) waiters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}
