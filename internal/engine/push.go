package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/patcher"
	"github.com/roach88/replica/internal/remote"
)

// Push applies one push event. Events addressed to a pending record are
// queued until the owning operation settles.
//
// An event that would introduce a record of a kind with a create in flight
// is deferred as well: the server may announce the new record before the
// create call returns, and applying it early would show the record under
// both its provisional and its final identity. Holding is bounded: at most
// the held limit of identities per kind are held, and an identity held
// longer than the stuck bound is released with a warning. A released event
// that turns out to be the create's own record makes the create confirm into
// an identity conflict, which quarantines it rather than hiding other
// sessions' records indefinitely.
func (e *Engine) Push(ctx context.Context, ev model.PushEvent) (patcher.Outcome, error) {
	var (
		out patcher.Outcome
		err error
	)
	if derr := e.do(ctx, func() { out, err = e.applyPush(ev) }); derr != nil {
		return 0, derr
	}
	return out, err
}

// Pump applies events from ch until ch closes or ctx ends. Invalid events
// are logged and skipped.
func (e *Engine) Pump(ctx context.Context, ch <-chan model.PushEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := e.Push(ctx, ev)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrStopped) {
					return err
				}
				slog.Warn("push event rejected", "event_id", ev.EventID, "identity", ev.Identity.String(), "error", err)
				continue
			}
			slog.Debug("push event", "event_id", ev.EventID, "identity", ev.Identity.String(),
				"version", ev.Version, "outcome", out.String())
		}
	}
}

func (e *Engine) applyPush(ev model.PushEvent) (patcher.Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	held, err := e.deferPush(ev)
	if err != nil {
		return 0, err
	}
	if held {
		return patcher.Queued, nil
	}
	return e.patcher.Apply(ev)
}

func (e *Engine) shouldDefer(kind model.Kind, id model.Identity, isDelete bool) bool {
	if _, exists := e.store.Get(id); exists {
		return false
	}
	if _, held := e.held[kind][id]; held {
		return true
	}
	return !isDelete && e.creating[kind] > 0
}

// deferPush holds ev while a create of its kind is in flight. It reports
// whether ev was held.
func (e *Engine) deferPush(ev model.PushEvent) (bool, error) {
	if !e.shouldDefer(ev.Kind, ev.Identity, ev.Delete) {
		return false, nil
	}
	ids := e.held[ev.Kind]
	if _, ok := ids[ev.Identity]; !ok && len(ids) >= e.heldLimit {
		slog.Warn("held identity limit reached, applying push event",
			"kind", string(ev.Kind),
			"identity", ev.Identity.String(),
			"limit", e.heldLimit,
			"event", "held_limit_reached",
		)
		return false, nil
	}
	if err := e.patcher.Defer(ev); err != nil {
		return false, err
	}
	if ids == nil {
		ids = make(map[model.Identity]time.Time)
		e.held[ev.Kind] = ids
	}
	if _, ok := ids[ev.Identity]; !ok {
		ids[ev.Identity] = e.now()
	}
	return true, nil
}

// releaseHeld replays events held longer than the stuck bound.
func (e *Engine) releaseHeld(now time.Time) {
	kinds := make([]model.Kind, 0, len(e.held))
	for k := range e.held {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		ids := e.held[kind]
		var due []model.Identity
		for id, since := range ids {
			if now.Sub(since) >= e.stuckAfter {
				due = append(due, id)
			}
		}
		sortIdentities(due)
		for _, id := range due {
			heldFor := now.Sub(ids[id])
			delete(ids, id)
			slog.Warn("held push events released before create settled",
				"kind", string(kind),
				"identity", id.String(),
				"held_for", heldFor.String(),
				"event", "held_released",
			)
			e.release(id)
		}
		if len(ids) == 0 {
			delete(e.held, kind)
		}
	}
}

func sortIdentities(ids []model.Identity) {
	slices.SortFunc(ids, func(a, b model.Identity) int { return strings.Compare(a.ID(), b.ID()) })
}

// createSettled is called once per finished create. When the last create of
// kind settles, deferred events for that kind are released.
func (e *Engine) createSettled(kind model.Kind) {
	e.creating[kind]--
	if e.creating[kind] > 0 {
		return
	}
	delete(e.creating, kind)

	held := e.held[kind]
	delete(e.held, kind)
	ids := make([]model.Identity, 0, len(held))
	for id := range held {
		ids = append(ids, id)
	}
	sortIdentities(ids)
	for _, id := range ids {
		e.release(id)
	}
}

// Load fetches one server page of kind and writes it into the store. New
// records are appended in server order; records an operation currently owns
// are left alone.
func (e *Engine) Load(ctx context.Context, kind model.Kind, params remote.ListParams) (remote.Page, error) {
	page, err := e.remote.List(ctx, kind, params)
	if err != nil {
		return remote.Page{}, fmt.Errorf("list %s: %w", kind, err)
	}
	var werr error
	if derr := e.do(ctx, func() { werr = e.absorb(kind, page.Items) }); derr != nil {
		return remote.Page{}, derr
	}
	return page, werr
}

// LoadAll follows cursors until the last page. It returns the number of
// items fetched.
func (e *Engine) LoadAll(ctx context.Context, kind model.Kind, params remote.ListParams) (int, error) {
	n := 0
	for {
		page, err := e.Load(ctx, kind, params)
		if err != nil {
			return n, err
		}
		n += len(page.Items)
		if page.NextCursor == "" {
			return n, nil
		}
		params.Cursor = page.NextCursor
	}
}

func (e *Engine) absorb(kind model.Kind, items []remote.Result) error {
	for _, it := range items {
		if it.Payload == nil || it.Payload.Kind() != kind {
			return fmt.Errorf("list %s: item %s has the wrong kind", kind, it.Identity)
		}
		if it.Identity.IsZero() || it.Identity.IsProvisional() {
			return fmt.Errorf("list %s: item without a final identity", kind)
		}
		rec, exists := e.store.Get(it.Identity)
		if exists && (rec.IsPending() || rec.Quarantined) {
			continue
		}
		if !exists && e.shouldDefer(kind, it.Identity, false) {
			obj, err := model.ToObject(it.Payload)
			if err != nil {
				return err
			}
			held, err := e.deferPush(model.PushEvent{
				EventID:  "list:" + it.Identity.ID(),
				Identity: it.Identity,
				Kind:     kind,
				Patch:    obj,
				Version:  it.Version,
			})
			if err != nil {
				return err
			}
			if held {
				continue
			}
		}
		e.store.Upsert(it.Identity, it.Payload, it.Version)
	}
	return nil
}

// Evict drops every record of kind that is neither pending nor quarantined,
// for callers that stop tracking a collection.
func (e *Engine) Evict(ctx context.Context, kind model.Kind) ([]model.Identity, error) {
	var out []model.Identity
	if err := e.do(ctx, func() { out = e.store.Evict(kind) }); err != nil {
		return nil, err
	}
	return out, nil
}
