// Package errgroup joins a set of thread handles with
// golang.org/x/sync/errgroup semantics: the first failed or cancelled thread
// becomes the group's error and the remaining threads are asked to cancel.
package errgroup

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/errgroup"

	"github.com/NetPo4ki/isothread/errs"
	"github.com/NetPo4ki/isothread/thread"
)

// Group owns the handles passed to Go and releases them in Wait.
type Group struct {
	mu      sync.Mutex
	handles []*thread.Handle
}

// Go adds h to the group. The group takes over the caller's reference.
func (g *Group) Go(h *thread.Handle) {
	if h == nil {
		return
	}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// Wait joins every thread concurrently and transfers results into dst in
// the order threads were added. On the first error the others are
// cancelled; every handle is joined and released before Wait returns.
//
// Results are transferred by one goroutine at a time since dst is not safe
// for concurrent use.
func (g *Group) Wait(ctx context.Context, dst *lua.LState) ([][]lua.LValue, error) {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	eg, gctx := errgroup.WithContext(ctx)
	results := make([][]lua.LValue, len(handles))
	var dstMu sync.Mutex
	for i, h := range handles {
		eg.Go(func() error {
			defer h.Release()
			stop := context.AfterFunc(gctx, func() { _ = h.Cancel() })
			defer stop()
			<-h.Done()
			dstMu.Lock()
			defer dstMu.Unlock()
			res, err := h.Join(context.WithoutCancel(ctx), dst)
			if err != nil {
				return err
			}
			if res.Cancelled {
				return errs.Operationf("errgroup.wait", errs.ErrCancelled.Code, "thread %d was cancelled", h.ID())
			}
			results[i] = res.Values
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
