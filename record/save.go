package record

import (
	"context"
	"time"
)

// Save persists the entity. It returns (false, nil) when a saving, creating or
// updating listener vetoes, in which case nothing was written.
//
// On a metadata-channel failure after a successful insert the entity already
// has its identity and reports Exists, so saving again retries as an update.
func (e *Entity) Save(ctx context.Context) (bool, error) {
	start := time.Now()
	op := "update"
	if !e.exists {
		op = "create"
	}
	saved, err := e.save(ctx)
	outcome := OutcomeSaved
	switch {
	case err != nil:
		outcome = OutcomeError
	case !saved:
		outcome = OutcomeVetoed
	}
	e.repo.metrics.ObserveSave(e.st.typ.Name, op, outcome, time.Since(start))
	return saved, err
}

// Update fills attrs and saves. It does nothing for entities that do not exist yet.
func (e *Entity) Update(ctx context.Context, attrs map[string]any) (bool, error) {
	if !e.exists {
		return false, nil
	}
	if err := e.Fill(attrs); err != nil {
		return false, err
	}
	return e.Save(ctx)
}

func (e *Entity) save(ctx context.Context) (bool, error) {
	// Instances built by a hook while booting outlive a failed boot.
	if err := e.st.failure(); err != nil {
		return false, err
	}
	if ok, err := e.ask(ctx, EventSaving); !ok {
		return false, err
	}
	creating := !e.exists
	pre, post := EventUpdating, EventUpdated
	if creating {
		pre, post = EventCreating, EventCreated
	}
	if ok, err := e.ask(ctx, pre); !ok {
		return false, err
	}

	id, err := e.repo.persister(e.st).persist(ctx, e)
	if creating && !id.IsZero() {
		e.id = id
		e.exists = true
		e.recentlyCreated = true
		e.attrs.Set(e.st.typ.IdentityField, string(id))
	}
	if err != nil {
		return false, err
	}
	e.tell(ctx, post)

	if err := e.hydrate(ctx, e.id); err != nil {
		return false, err
	}
	e.tell(ctx, EventSaved)
	e.repo.logger.Debug("record saved", "type", e.st.typ.Name, "id", e.id, "created", creating)
	return true, nil
}

// ask fires a halting event on the type hooks, then on the dispatcher.
func (e *Entity) ask(ctx context.Context, name EventName) (bool, error) {
	v := e.fire(ctx, name)
	switch {
	case v.Vetoed():
		e.repo.logger.Info("save vetoed", "type", e.st.typ.Name, "id", e.id, "event", name, "reason", v.Reason())
		return false, nil
	case v.Failed():
		return false, &EventError{Event: name, Type: e.st.typ.Name, Err: v.Err()}
	}
	return true, nil
}

// tell fires an observing event. The write already happened, so verdicts are only logged.
func (e *Entity) tell(ctx context.Context, name EventName) {
	if v := e.fire(ctx, name); v.Failed() {
		e.repo.logger.Warn("listener failed after write", "type", e.st.typ.Name, "id", e.id, "event", name, "error", v.Err())
	}
}

func (e *Entity) fire(ctx context.Context, name EventName) Verdict {
	ev := Event{Name: name, Type: e.st.typ.Name, Entity: e}
	v := e.st.hooks.Fire(ctx, ev)
	if name.Halting() {
		if v.kind != verdictContinue {
			return v
		}
		return e.repo.events.Fire(ctx, ev)
	}
	var errs []error
	for _, v := range []Verdict{v, e.repo.events.Fire(ctx, ev)} {
		if v.Failed() {
			errs = append(errs, v.Err())
		}
	}
	return joinFailures(errs)
}
