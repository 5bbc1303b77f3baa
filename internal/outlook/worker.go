package outlook

import (
	"context"
	"errors"
	"runtime"
)

// Worker owns the single thread every automation call must run on. The
// automation interface requires single-threaded-apartment affinity: all
// calls on its objects must come from the same OS thread, declared
// single-threaded at initialisation.
type Worker struct {
	jobs chan job
	done chan struct{}
}

type job struct {
	fn     func() error
	result chan error
}

// ErrWorkerClosed is returned for jobs submitted after Close.
var ErrWorkerClosed = errors.New("outlook: worker closed")

// NewWorker starts the affinitised worker. setup runs first on the locked
// thread (apartment initialisation); its error fails construction.
// teardown runs on the same thread when the worker closes.
func NewWorker(setup func() error, teardown func()) (*Worker, error) {
	w := &Worker{
		jobs: make(chan job),
		done: make(chan struct{}),
	}

	setupErr := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if setup != nil {
			if err := setup(); err != nil {
				setupErr <- err
				return
			}
		}
		setupErr <- nil

		defer close(w.done)
		if teardown != nil {
			defer teardown()
		}

		for j := range w.jobs {
			j.result <- run(j.fn)
		}
	}()

	if err := <-setupErr; err != nil {
		return nil, err
	}
	return w, nil
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(ErrHostUnavailable, recoveredError(r))
		}
	}()
	return fn()
}

func recoveredError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("panic in automation call")
}

// Do runs fn on the worker thread and waits for it. The wait honours ctx,
// but a job that already started keeps the thread until it returns.
func (w *Worker) Do(ctx context.Context, fn func() error) error {
	j := job{fn: fn, result: make(chan error, 1)}
	select {
	case w.jobs <- j:
	case <-w.done:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after the current job, releasing the thread.
func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}
