// Package engine executes validated atomic batches.
//
// ARCHITECTURE:
//
// A Processor runs the pipeline for one request body:
//
//  1. compiler.Parse builds the operation list
//  2. compiler.Validate checks it and yields a Batch (nothing runs on failure)
//  3. Dispatcher.Execute runs every step inside one Transactor transaction
//  4. BuildResults shapes the outcomes according to the ReturnPolicy
//
// The dispatcher delegates each step to the Handler registered for the
// resource type: add → Create, update → Update, remove → Delete, and
// relationship operations → AddToRelationship / ReplaceRelationship /
// RemoveFromRelationship. Types without a handler, and handlers missing a
// capability, fail with ir.ErrUnsupported.
//
// INVARIANTS:
//   - Steps run strictly in request order, one at a time
//   - The lid table belongs to a single Execute call
//   - A lid is registered only after its add succeeded
//   - The first failure rolls back the whole batch; there are no retries
//   - Exactly one outcome per operation on success
package engine
