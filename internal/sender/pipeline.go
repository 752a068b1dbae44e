package sender

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bnema/xrelay/internal/capture"
	"github.com/bnema/xrelay/internal/logger"
	"golang.org/x/sync/errgroup"
)

// Pipeline wires capture readers to the encoder. Each source gets its own
// queue and drain goroutine so a burst of motion never delays keys.
type Pipeline struct {
	Encoder *Encoder
	Locator capture.PointerLocator

	Mouse    capture.Source
	Keyboard capture.Source // optional

	QueueSize int

	// Closers are closed when the context ends to unblock pending reads.
	Closers []io.Closer

	mu     sync.Mutex
	queues []*capture.Queue
}

// Run captures and relays until ctx is cancelled or a reader fails.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.Encoder == nil || p.Locator == nil || p.Mouse == nil {
		return errors.New("pipeline requires an encoder, a pointer locator and a mouse source")
	}

	g, ctx := errgroup.WithContext(ctx)

	mouseQ := p.newQueue()
	g.Go(func() error { return capture.NewMouseReader(p.Mouse, mouseQ).Run(ctx) })
	g.Go(func() error { return p.drain(ctx, mouseQ) })

	if p.Keyboard != nil {
		keyQ := p.newQueue()
		g.Go(func() error { return capture.NewKeyboardReader(p.Keyboard, keyQ).Run(ctx) })
		g.Go(func() error { return p.drain(ctx, keyQ) })
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, c := range p.Closers {
			if err := c.Close(); err != nil {
				logger.Debugf("Closing capture source: %v", err)
			}
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dropped returns the number of events discarded on queue overflow.
func (p *Pipeline) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var n uint64
	for _, q := range p.queues {
		n += q.Dropped()
	}
	return n
}

func (p *Pipeline) newQueue() *capture.Queue {
	q := capture.NewQueue(p.QueueSize)
	p.mu.Lock()
	p.queues = append(p.queues, q)
	p.mu.Unlock()
	return q
}

func (p *Pipeline) drain(ctx context.Context, q *capture.Queue) error {
	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			return nil
		}
		p.dispatch(ev)
	}
}

func (p *Pipeline) dispatch(ev capture.Event) {
	if ev.Kind == capture.KindKey {
		p.Encoder.OnKey(ev.Code, ev.State)
		return
	}

	x, y, err := p.Locator.Position()
	if err != nil {
		logger.Debugf("Pointer position unavailable, dropping %s: %v", ev.Kind, err)
		return
	}

	switch ev.Kind {
	case capture.KindMove:
		p.Encoder.OnMove(x, y)
	case capture.KindButton:
		p.Encoder.OnClick(x, y, ev.Button, ev.Pressed)
	case capture.KindScroll:
		p.Encoder.OnScroll(x, y, int(ev.DX), int(ev.DY))
	}
}
