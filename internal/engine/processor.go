package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/jsonapi-atomic/internal/compiler"
	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// DefaultMaxOperations bounds batch size unless configured otherwise.
const DefaultMaxOperations = 100

// Processor runs the whole pipeline for one request body:
// parse, validate, execute, build results.
type Processor struct {
	dispatcher  *Dispatcher
	serializer  Serializer
	policy      ir.ReturnPolicy
	maxOps      int
	basePath    string
	applyFields bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithReturnPolicy sets the response policy. Default: ir.ReturnAuto.
func WithReturnPolicy(p ir.ReturnPolicy) ProcessorOption {
	return func(pr *Processor) {
		pr.policy = p
	}
}

// WithMaxOperations bounds batch size. Zero disables the bound.
//
// Default: 100 operations (DefaultMaxOperations)
func WithMaxOperations(n int) ProcessorOption {
	return func(pr *Processor) {
		pr.maxOps = n
	}
}

// WithBasePath sets the prefix stripped from operation hrefs.
func WithBasePath(path string) ProcessorOption {
	return func(pr *Processor) {
		pr.basePath = path
	}
}

// WithApplyRequestFields makes the request's sparse fieldsets apply to
// result serialization. By default results are rendered in full.
func WithApplyRequestFields(apply bool) ProcessorOption {
	return func(pr *Processor) {
		pr.applyFields = apply
	}
}

// NewProcessor creates a processor.
func NewProcessor(d *Dispatcher, s Serializer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		dispatcher: d,
		serializer: s,
		policy:     ir.ReturnAuto,
		maxOps:     DefaultMaxOperations,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the configured return policy.
func (p *Processor) Policy() ir.ReturnPolicy {
	return p.policy
}

// Process executes one request body.
//
// Errors are *compiler.RequestError or compiler.ValidationErrors (nothing
// was executed), *RuntimeError (the batch was rolled back) or a wrapped
// infrastructure error.
func (p *Processor) Process(ctx context.Context, body []byte, fields ir.Fieldsets) (*Response, error) {
	ops, err := compiler.Parse(body)
	if err != nil {
		return nil, err
	}

	batch, err := compiler.Validate(ops, compiler.Options{
		MaxOperations: p.maxOps,
		BasePath:      p.basePath,
	})
	if err != nil {
		return nil, err
	}

	outcomes, err := p.dispatcher.Execute(ctx, batch)
	if err != nil {
		return nil, err
	}

	if !p.applyFields {
		fields = nil
	}
	resp, err := BuildResults(outcomes, p.policy, p.serializer, fields)
	if err != nil {
		return nil, err
	}

	if bo, ok := p.dispatcher.observer.(BatchObserver); ok {
		bo.ObserveBatch(len(batch.Steps))
	}

	slog.Debug("batch committed",
		"operations", len(batch.Steps),
		"lids", len(batch.DeclaredLIDs),
		"all_empty", resp.AllEmpty,
	)
	return resp, nil
}
