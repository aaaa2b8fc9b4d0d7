package model

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// definitionSchema lists the required fields of a definition payload. Extra
// fields are tolerated so that files exported by other tooling still load.
const definitionSchema = `
#Sweep: {
	start!: number
	stop!:  number
	jump!:  number & !=0
}

#Pattern: {
	input_file!:  string & !=""
	input_paths!: [string, ...string]
	recipes!:     [string, ...string]
	output?:      {[string]: string}
	variables?:   {[string]: _}
	sweep?:       {[string]: #Sweep}
	...
}

#Recipe: {
	source!:       string & !=""
	recipe!:       {...}
	requirements?: [...string]
	...
}
`

// schemaSet holds the compiled schema. A cue.Context is not safe for
// concurrent use, so every evaluation holds mu.
type schemaSet struct {
	mu      sync.Mutex
	ctx     *cue.Context
	pattern cue.Value
	recipe  cue.Value
	err     error
}

var (
	schemasOnce sync.Once
	schemas     *schemaSet
)

func loadSchemas() *schemaSet {
	schemasOnce.Do(func() {
		s := &schemaSet{ctx: cuecontext.New()}
		root := s.ctx.CompileString(definitionSchema, cue.Filename("definitions.cue"))
		if err := root.Err(); err != nil {
			s.err = fmt.Errorf("compile definition schema: %w", err)
		} else {
			s.pattern = root.LookupPath(cue.ParsePath("#Pattern"))
			s.recipe = root.LookupPath(cue.ParsePath("#Recipe"))
		}
		schemas = s
	})
	return schemas
}

// ValidatePatternPayload checks a raw pattern payload (as decoded from YAML or
// JSON) against the required-field schema. It never panics on malformed
// input; the reason is empty when the payload is valid.
func ValidatePatternPayload(payload map[string]any) (bool, string) {
	return checkPayload("pattern", payload)
}

// ValidateRecipePayload is the recipe counterpart of ValidatePatternPayload.
func ValidateRecipePayload(payload map[string]any) (bool, string) {
	return checkPayload("recipe", payload)
}

func checkPayload(kind string, payload map[string]any) (bool, string) {
	if payload == nil {
		return false, fmt.Sprintf("a workflow %s was not provided", kind)
	}
	s := loadSchemas()
	if s.err != nil {
		return false, s.err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schema := s.pattern
	if kind == "recipe" {
		schema = s.recipe
	}

	v := s.ctx.Encode(dropNulls(payload))
	if err := v.Err(); err != nil {
		return false, fmt.Sprintf("the workflow %s had an incorrect structure: %s", kind, firstSchemaError(err))
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return false, fmt.Sprintf("the workflow %s had an incorrect structure: %s", kind, firstSchemaError(err))
	}
	return true, ""
}

// firstSchemaError reports the first of possibly many CUE errors.
func firstSchemaError(err error) string {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return errs[0].Error()
}

// dropNulls removes top-level keys with nil values; an empty "output:" key in
// a YAML file means "no outputs", not "outputs must be null".
func dropNulls(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
