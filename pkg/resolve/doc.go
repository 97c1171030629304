// Package resolve implements the template inheritance resolution engine.
//
// Resolution turns a raw hierarchical template and a machine context into a
// single flat, provenance-tagged configuration in five passes:
//
//  1. Shared pass: every shared entry is copied into the result.
//  2. Overlay selection: machine-specific blocks whose selectors all match
//     the machine context are sorted by priority (descending, stable).
//  3. Overlay application: matching blocks are merged over the baseline,
//     field by field, machine winning by default.
//  4. Inheritance rules: declarative post-merge transformations keyed on
//     entry tags.
//  5. Conditional sections: blocks guarded by runtime conditions are
//     injected last, winning key collisions.
//
// The validator then checks the fully resolved tree at the template's
// validation level.
//
// Resolution is a pure function of its inputs: it performs no I/O, holds
// no shared mutable state, and identical inputs always yield value-identical
// output. Independent Resolve calls may run concurrently, each with its own
// machine context snapshot.
//
// Selector and condition failures degrade gracefully: a selector that
// cannot be evaluated suppresses only its overlay, and a condition that
// errors or times out skips only its section. Only strict-mode validation
// failures terminate resolution, since they indicate an authoring error in
// the template itself.
package resolve
