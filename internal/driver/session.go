package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
	"github.com/nerrad567/gray-logic-gateway/internal/stack"
)

type connectResult struct {
	sess matter.Session
	err  error
}

// connect opens a session on the stack goroutine and waits for it. If ctx
// expires first, a session delivered later is released there.
func connect(ctx context.Context, exec stack.Scheduler, ctrl matter.Controller, node matter.NodeID) (matter.Session, error) {
	results := make(chan connectResult, 1)
	// Only touched on the stack goroutine.
	abandoned, delivered := false, false
	deliver := func(r connectResult) {
		if delivered {
			return
		}
		delivered = true
		if abandoned {
			if r.sess != nil {
				r.sess.Release()
			}
			return
		}
		results <- r
	}

	if err := exec.Schedule(func() {
		err := ctrl.Connect(node, func(s matter.Session, err error) {
			deliver(connectResult{s, err})
		})
		if err != nil {
			deliver(connectResult{nil, err})
		}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-results:
		return r.sess, r.err
	case <-ctx.Done():
		_ = exec.Schedule(func() { //nolint:errcheck // executor stopping releases nothing further
			abandoned = true
			select {
			case r := <-results:
				if r.sess != nil {
					r.sess.Release()
				}
			default:
			}
		})
		return nil, ctx.Err()
	}
}

func release(exec stack.Scheduler, sess matter.Session) {
	_ = exec.Schedule(sess.Release) //nolint:errcheck // executor stopping drops the session anyway
}

// read issues one read and collects its values. Unsupported attributes are
// left out of the result; any other attribute error fails the read.
func read(ctx context.Context, exec stack.Scheduler, sess matter.Session, paths []matter.AttributePath, params matter.ReadParams) (map[matter.AttributePath]any, error) {
	values := make(map[matter.AttributePath]any, len(paths))
	var readErr error
	done := make(chan struct{})
	finished := false
	finish := func() {
		if !finished {
			finished = true
			close(done)
		}
	}
	var handle matter.ReadHandle

	if err := exec.Schedule(func() {
		h, err := sess.Read(paths, params, matter.ReadCallbacks{
			OnAttribute: func(path matter.AttributePath, v any) {
				values[path] = v
			},
			OnError: func(path matter.AttributePath, err error) {
				if errors.Is(err, matter.ErrUnsupportedAttribute) || readErr != nil {
					return
				}
				readErr = fmt.Errorf("reading %v: %w", path, err)
			},
			OnDone: finish,
		})
		if err != nil {
			if !finished {
				readErr = err
			}
			finish()
			return
		}
		handle = h
	}); err != nil {
		return nil, err
	}

	select {
	case <-done:
		// values and readErr were last written on the stack goroutine
		// before done closed.
		if readErr != nil {
			return nil, readErr
		}
		return values, nil
	case <-ctx.Done():
		_ = exec.Schedule(func() { //nolint:errcheck // best effort cancel
			if handle != nil {
				handle.Close()
			}
		})
		return nil, ctx.Err()
	}
}
