package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/jsonapi-atomic/internal/compiler"
	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// Dispatcher executes validated batches.
//
// Thread-safety: a Dispatcher holds no per-request state and is safe for
// concurrent use. Each Execute call gets its own execution.
type Dispatcher struct {
	tx       Transactor
	registry *Registry
	observer Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver reports every executed operation to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// NewDispatcher creates a dispatcher over a transaction manager and a
// handler registry.
func NewDispatcher(tx Transactor, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tx:       tx,
		registry: registry,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs every step of the batch in order inside one transaction and
// returns exactly one outcome per step.
//
// The first failing step aborts the batch: the transaction rolls back and
// a *RuntimeError names the failing operation. No outcomes are returned
// on failure.
func (d *Dispatcher) Execute(ctx context.Context, batch *compiler.Batch) ([]ir.Outcome, error) {
	var outcomes []ir.Outcome

	err := d.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		exec := &execution{
			dispatcher: d,
			lids:       make(map[string]ir.ResourceIdentifier, len(batch.DeclaredLIDs)),
			outcomes:   make([]ir.Outcome, 0, len(batch.Steps)),
		}
		if err := exec.run(ctx, batch.Steps); err != nil {
			return err
		}
		outcomes = exec.outcomes
		return nil
	})
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, fmt.Errorf("execute batch: %w", err)
	}
	return outcomes, nil
}

// execution is the state of one Execute call. The lid table lives here and
// nowhere else, so concurrent batches never share identifiers.
type execution struct {
	dispatcher *Dispatcher
	lids       map[string]ir.ResourceIdentifier
	outcomes   []ir.Outcome
}

func (e *execution) run(ctx context.Context, steps []compiler.Step) error {
	for _, step := range steps {
		op := step.Operation
		if err := ctx.Err(); err != nil {
			return newAbortError(op, err)
		}

		start := time.Now()
		outcome, err := e.dispatch(ctx, step)
		if obs := e.dispatcher.observer; obs != nil {
			obs.ObserveOperation(op.Op, step.Target.Type, time.Since(start), err)
		}
		if err != nil {
			slog.Debug("operation failed",
				"index", op.Index,
				"op", op.Op,
				"type", step.Target.Type,
				"error", err,
			)
			return newExecutionError(op, err)
		}

		slog.Debug("operation executed",
			"index", op.Index,
			"op", op.Op,
			"type", step.Target.Type,
			"id", outcome.ID,
			"relationship", step.Target.Relationship,
		)
		e.outcomes = append(e.outcomes, outcome)
	}
	return nil
}

// dispatch routes one step to its collaborator by operation shape.
func (e *execution) dispatch(ctx context.Context, step compiler.Step) (ir.Outcome, error) {
	target := step.Target
	handler := e.dispatcher.registry.Lookup(target.Type)

	if target.IsRelationship() {
		return e.dispatchRelationship(ctx, handler, step)
	}

	switch step.Operation.Op {
	case ir.OpAdd:
		res, err := e.resource(step)
		if err != nil {
			return ir.Outcome{}, err
		}
		created, err := handler.Creator.Create(ctx, res)
		if err != nil {
			return ir.Outcome{}, err
		}
		if created == nil {
			return ir.Outcome{}, fmt.Errorf("create %s returned no resource", target.Type)
		}
		if step.Declares != "" {
			e.lids[step.Declares] = ir.ResourceIdentifier{Type: created.Type, ID: created.ID}
		}
		return ir.ResourceOutcome(created), nil

	case ir.OpUpdate:
		id, err := e.resolve(target.Type, target.ID, target.LID)
		if err != nil {
			return ir.Outcome{}, err
		}
		res, err := e.resource(step)
		if err != nil {
			return ir.Outcome{}, err
		}
		res.ID = id
		updated, err := handler.Updater.Update(ctx, res)
		if err != nil {
			return ir.Outcome{}, err
		}
		if updated == nil {
			return ir.Outcome{}, fmt.Errorf("update %s %q returned no resource", target.Type, id)
		}
		return ir.ResourceOutcome(updated), nil

	case ir.OpRemove:
		id, err := e.resolve(target.Type, target.ID, target.LID)
		if err != nil {
			return ir.Outcome{}, err
		}
		if err := handler.Deleter.Delete(ctx, target.Type, id); err != nil {
			return ir.Outcome{}, err
		}
		return ir.Outcome{}, nil

	default:
		return ir.Outcome{}, fmt.Errorf("%w: op %q", ir.ErrUnsupported, step.Operation.Op)
	}
}

func (e *execution) dispatchRelationship(ctx context.Context, handler Handler, step compiler.Step) (ir.Outcome, error) {
	target := step.Target
	id, err := e.resolve(target.Type, target.ID, target.LID)
	if err != nil {
		return ir.Outcome{}, err
	}
	if step.Linkage == nil {
		return ir.Outcome{}, fmt.Errorf("%w: relationship %q without data", ir.ErrInvalid, target.Relationship)
	}
	linkage, err := e.resolveLinkage(*step.Linkage)
	if err != nil {
		return ir.Outcome{}, err
	}

	rel := handler.Relationships
	switch step.Operation.Op {
	case ir.OpAdd:
		err = rel.AddToRelationship(ctx, target.Type, id, target.Relationship, linkage.Items)
	case ir.OpUpdate:
		err = rel.ReplaceRelationship(ctx, target.Type, id, target.Relationship, linkage)
	case ir.OpRemove:
		err = rel.RemoveFromRelationship(ctx, target.Type, id, target.Relationship, linkage.Items)
	default:
		err = fmt.Errorf("%w: op %q", ir.ErrUnsupported, step.Operation.Op)
	}
	return ir.Outcome{}, err
}

// resource converts validated step data into a resource handle with every
// linkage lid replaced by its real id.
func (e *execution) resource(step compiler.Step) (ir.Resource, error) {
	obj := step.Resource
	if obj == nil {
		return ir.Resource{}, fmt.Errorf("%w: %s operation without resource data", ir.ErrInvalid, step.Operation.Op)
	}

	res := ir.Resource{
		Type:       obj.Type,
		ID:         obj.ID,
		Attributes: obj.Attributes,
	}
	for name, rel := range obj.Relationships {
		if !rel.Data.Present {
			continue
		}
		linkage, err := e.resolveLinkage(rel.Data)
		if err != nil {
			return ir.Resource{}, err
		}
		if res.Relationships == nil {
			res.Relationships = make(map[string]ir.Linkage)
		}
		res.Relationships[name] = linkage
	}
	return res, nil
}

// resolveLinkage returns a copy of l with lids replaced by ids.
func (e *execution) resolveLinkage(l ir.Linkage) (ir.Linkage, error) {
	out := ir.Linkage{Present: l.Present, Many: l.Many}
	if l.Many {
		out.Items = make([]ir.ResourceIdentifier, 0, len(l.Items))
		for _, item := range l.Items {
			id, err := e.resolve(item.Type, item.ID, item.LID)
			if err != nil {
				return ir.Linkage{}, err
			}
			out.Items = append(out.Items, ir.ResourceIdentifier{Type: item.Type, ID: id, Meta: item.Meta})
		}
		return out, nil
	}
	if l.One != nil {
		id, err := e.resolve(l.One.Type, l.One.ID, l.One.LID)
		if err != nil {
			return ir.Linkage{}, err
		}
		out.One = &ir.ResourceIdentifier{Type: l.One.Type, ID: id, Meta: l.One.Meta}
	}
	return out, nil
}

// resolve returns the real id for an (id, lid) pair.
func (e *execution) resolve(typ, id, lid string) (string, error) {
	if lid == "" {
		return id, nil
	}
	ref, ok := e.lids[lid]
	if !ok {
		return "", fmt.Errorf("%w: local identifier %q is not resolved", ir.ErrInvalid, lid)
	}
	if ref.Type != typ {
		return "", fmt.Errorf("%w: local identifier %q names a %s, not a %s", ir.ErrInvalid, lid, ref.Type, typ)
	}
	return ref.ID, nil
}
