package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/replica/internal/objectstore"
	"github.com/roach88/replica/internal/queryview"
)

// Unsubscribe detaches a view subscription. It is safe to call more than
// once and from inside the callback.
type Unsubscribe func()

// viewSub is one SubscribeView registration. The loop computes views and
// posts them to a mailbox; a per-subscription goroutine delivers them, so a
// callback may call back into the engine. When views are produced faster
// than the callback consumes them only the latest is delivered.
type viewSub struct {
	params queryview.Params
	cb     func(queryview.ViewModel)

	// Loop-owned.
	memo      queryview.Memo
	last      queryview.ViewModel
	delivered bool

	mu   sync.Mutex
	next *queryview.ViewModel
	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

// SubscribeView calls cb with the view selected by params now and after
// every committed change that alters it. Deliveries happen on a dedicated
// goroutine, never inline with a store mutation.
func (e *Engine) SubscribeView(ctx context.Context, params queryview.Params, cb func(queryview.ViewModel)) (Unsubscribe, error) {
	v := &viewSub{
		params: params,
		cb:     cb,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	var id int
	if err := e.do(ctx, func() {
		id = e.nextView
		e.nextView++
		e.views[id] = v
		v.update(e.store.Snapshot())
	}); err != nil {
		return nil, err
	}
	go v.loop()

	return func() {
		v.close()
		e.queue.Enqueue(event{Type: EventTypeCall, call: func() { delete(e.views, id) }})
	}, nil
}

// View projects the committed snapshot once.
func (e *Engine) View(params queryview.Params) queryview.ViewModel {
	return queryview.Project(e.Snapshot(), params)
}

func (e *Engine) refreshViews(b objectstore.Batch) {
	ids := make([]int, 0, len(e.views))
	for id := range e.views {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		v := e.views[id]
		if b.Touches(v.params.Kind) {
			v.update(b.Snapshot)
		}
	}
}

func (v *viewSub) update(snap *objectstore.Snapshot) {
	vm := v.memo.Project(snap, v.params)
	if v.delivered && vm.Equal(v.last) {
		return
	}
	v.last = vm
	v.delivered = true
	v.post(vm)
}

func (v *viewSub) post(vm queryview.ViewModel) {
	v.mu.Lock()
	v.next = &vm
	v.mu.Unlock()
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *viewSub) loop() {
	for {
		select {
		case <-v.quit:
			return
		case <-v.wake:
		}
		v.mu.Lock()
		vm := v.next
		v.next = nil
		v.mu.Unlock()
		if vm == nil {
			continue
		}
		select {
		case <-v.quit:
			return
		default:
		}
		v.cb(*vm)
	}
}

func (v *viewSub) close() {
	v.once.Do(func() { close(v.quit) })
}
