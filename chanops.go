package lnpay

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/lnwire"
)

// Future is the pending result of an asynchronous channel operation.
type Future[T any] struct {
	once   sync.Once
	done   chan struct{}
	result fn.Result[T]
}

// newFuture creates an unresolved future.
func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// failedFuture creates a future that already failed with err.
func failedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(fn.Err[T](err))

	return f
}

// resolve sets the result. Only the first call has an effect.
func (f *Future[T]) resolve(result fn.Result[T]) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the operation finished and returns its outcome.
func (f *Future[T]) Result() fn.Result[T] {
	<-f.done
	return f.result
}

// Await waits for the result or for ctx to end. Ending ctx only stops the
// wait, the operation itself is not affected.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.Unpack()

	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// chanOp is a queued operation on one channel.
type chanOp struct {
	// ctx is the context of the submitter. An operation whose context
	// ended before it started is dropped.
	ctx context.Context

	run    func() (*chanstore.Channel, error)
	future *Future[*chanstore.Channel]
}

// chanOpQueue runs channel operations in submission order per channel.
// Operations on different channels run concurrently, each channel being
// drained by at most one worker.
type chanOpQueue struct {
	gm *fn.GoroutineManager

	mu      sync.Mutex
	pending map[lnwire.ChannelID][]*chanOp
}

// newChanOpQueue creates a queue whose workers run on gm.
func newChanOpQueue(gm *fn.GoroutineManager) *chanOpQueue {
	return &chanOpQueue{
		gm:      gm,
		pending: make(map[lnwire.ChannelID][]*chanOp),
	}
}

// submit queues run behind every earlier operation on chanID.
func (q *chanOpQueue) submit(ctx context.Context, chanID lnwire.ChannelID,
	run func() (*chanstore.Channel, error)) *Future[*chanstore.Channel] {

	op := &chanOp{
		ctx:    ctx,
		run:    run,
		future: newFuture[*chanstore.Channel](),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	queue, busy := q.pending[chanID]
	q.pending[chanID] = append(queue, op)
	if busy {
		return op.future
	}

	// The worker outlives the submitter's context, so it runs on a
	// background context and only stops with the node.
	ok := q.gm.Go(context.Background(), func(ctx context.Context) {
		q.drain(ctx, chanID)
	})
	if !ok {
		delete(q.pending, chanID)
		op.future.resolve(fn.Err[*chanstore.Channel](
			ErrNodeShuttingDown,
		))
	}

	return op.future
}

// next pops the oldest operation of chanID. The queue entry is removed once
// it is empty, which ends the worker.
func (q *chanOpQueue) next(chanID lnwire.ChannelID) (*chanOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.pending[chanID]
	if len(queue) == 0 {
		delete(q.pending, chanID)
		return nil, false
	}

	op := queue[0]
	queue[0] = nil
	q.pending[chanID] = queue[1:]

	return op, true
}

// drain runs the operations of chanID until none is left.
func (q *chanOpQueue) drain(ctx context.Context, chanID lnwire.ChannelID) {
	for {
		op, ok := q.next(chanID)
		if !ok {
			return
		}

		select {
		case <-op.ctx.Done():
			lpayLog.Debugf("Dropping canceled operation on channel %v",
				chanID)
			op.future.resolve(fn.Err[*chanstore.Channel](
				op.ctx.Err(),
			))

			continue

		case <-ctx.Done():
			op.future.resolve(fn.Err[*chanstore.Channel](
				ErrNodeShuttingDown,
			))

			continue

		default:
		}

		c, err := op.run()
		if err != nil {
			op.future.resolve(fn.Err[*chanstore.Channel](err))
			continue
		}
		op.future.resolve(fn.Ok(c))
	}
}
