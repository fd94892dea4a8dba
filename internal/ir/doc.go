// Package ir provides the shared types of the atomic operations service.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps ir the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Operations are immutable once parsed (value receivers only)
//   - Every operation carries the JSON pointer of its batch entry
//   - Linkage distinguishes absent, null, to-one and to-many data
//   - Collaborator failures are classified with the Err* sentinels
package ir
