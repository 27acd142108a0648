// Package stack provides the gateway's protocol "stack thread".
//
// The Matter controller and its sessions are not safe for concurrent use, so
// all protocol I/O is funnelled through a single goroutine (Executor). Callers
// schedule closures with Schedule and never block that goroutine; results flow
// back through callbacks or a Promise.
//
//	exec := stack.NewExecutor(256)
//	exec.Start(ctx)
//	defer exec.Stop()
//
//	result := stack.NewPromise[bool]()
//	_ = exec.Schedule(func() { result.Resolve(true) })
//	ok, err := result.Wait(ctx)
package stack
