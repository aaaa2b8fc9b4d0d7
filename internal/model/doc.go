// Package model defines the workflow definitions the runner is driven by.
//
// A Pattern binds trigger paths, declared outputs and variables to a Recipe.
// A Recipe is a named, reusable unit of work whose payload is opaque to the
// engine. Both are built either incrementally through the builder methods on
// Pattern, or from a complete payload read from disk (PatternFromPayload,
// RecipeFromPayload), in which case the payload is first checked against a
// required-field schema.
//
// BuildWorkflow projects a set of patterns onto a dependency graph by matching
// every pattern's trigger regexes against every pattern's declared outputs.
// The graph is derived data: it is rebuilt from scratch whenever the pattern
// set changes and is never persisted.
package model
