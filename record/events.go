package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type EventName string

const (
	EventBooting  EventName = "booting"
	EventBooted   EventName = "booted"
	EventSaving   EventName = "saving"
	EventCreating EventName = "creating"
	EventUpdating EventName = "updating"
	EventCreated  EventName = "created"
	EventUpdated  EventName = "updated"
	EventSaved    EventName = "saved"
)

// Halting events can be vetoed. Verdicts on other events are only logged.
func (n EventName) Halting() bool {
	switch n {
	case EventSaving, EventCreating, EventUpdating:
		return true
	}
	return false
}

// Event is the payload handed to listeners. Entity is nil for booting and booted.
type Event struct {
	Name   EventName
	Type   string
	Entity *Entity
}

type verdictKind uint8

const (
	verdictContinue verdictKind = iota
	verdictVeto
	verdictFail
)

// Verdict is a listener's answer: continue, veto, or fail with an error.
type Verdict struct {
	kind   verdictKind
	reason string
	err    error
}

// Continue lets the operation proceed.
var Continue = Verdict{}

// Veto cancels a halting operation before any write. It is not an error.
func Veto(reason string) Verdict {
	return Verdict{kind: verdictVeto, reason: reason}
}

// Fail cancels a halting operation and makes it return err.
func Fail(err error) Verdict {
	if err == nil {
		err = fmt.Errorf("listener failed without an error")
	}
	return Verdict{kind: verdictFail, err: err}
}

func (v Verdict) Vetoed() bool   { return v.kind == verdictVeto }
func (v Verdict) Failed() bool   { return v.kind == verdictFail }
func (v Verdict) Reason() string { return v.reason }
func (v Verdict) Err() error     { return v.err }

func (v Verdict) String() string {
	switch v.kind {
	case verdictVeto:
		return "veto: " + v.reason
	case verdictFail:
		return "fail: " + v.err.Error()
	}
	return "continue"
}

type Listener func(ctx context.Context, ev Event) Verdict

// Dispatcher is the event bus the orchestrator fires lifecycle events on.
type Dispatcher interface {
	Fire(ctx context.Context, ev Event) Verdict
}

// AnyType subscribes a listener to every entity type.
const AnyType = "*"

// Bus is an in-process Dispatcher. Listeners run in registration order, type
// specific ones before AnyType ones. For halting events the first non-Continue
// verdict stops the walk; other events reach every listener and their failures
// are joined into one verdict.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]map[EventName][]Listener
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[string]map[EventName][]Listener)}
}

func (b *Bus) Listen(typeName string, name EventName, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byName, ok := b.listeners[typeName]
	if !ok {
		byName = make(map[EventName][]Listener)
		b.listeners[typeName] = byName
	}
	byName[name] = append(byName[name], l)
}

func (b *Bus) Fire(ctx context.Context, ev Event) Verdict {
	b.mu.RLock()
	var ls []Listener
	ls = append(ls, b.listeners[ev.Type][ev.Name]...)
	if ev.Type != AnyType {
		ls = append(ls, b.listeners[AnyType][ev.Name]...)
	}
	b.mu.RUnlock()

	if !ev.Name.Halting() {
		var errs []error
		for _, l := range ls {
			if v := l(ctx, ev); v.Failed() {
				errs = append(errs, v.Err())
			}
		}
		return joinFailures(errs)
	}
	for _, l := range ls {
		if v := l(ctx, ev); v.kind != verdictContinue {
			return v
		}
	}
	return Continue
}

func joinFailures(errs []error) Verdict {
	if len(errs) == 0 {
		return Continue
	}
	return Fail(errors.Join(errs...))
}

var _ Dispatcher = (*Bus)(nil)

type nopDispatcher struct{}

func (nopDispatcher) Fire(context.Context, Event) Verdict { return Continue }
