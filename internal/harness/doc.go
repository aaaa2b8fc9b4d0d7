// Package harness runs workflow scenarios end to end against a real runner.
//
// A scenario declares recipes and patterns, then a list of steps that write
// files into the managed directory. The harness starts a runner over fresh
// temporary directories, applies the steps, waits for the runner to go
// quiet, and evaluates the scenario's assertions against the managed
// directory and the jobs that ran.
//
// # Scenario Format
//
//	name: copy_chain
//	description: "Outputs of one pattern trigger the next"
//	recipes:
//	  identity:
//	    source: identity.ipynb
//	    recipe: { action: copy }
//	patterns:
//	  first:
//	    input_file: infile
//	    input_paths: [ "start/*.txt" ]
//	    recipes: [ identity ]
//	    output: { outfile: "mid/*.txt" }
//	    variables: { infile: infile, outfile: outfile }
//	steps:
//	  - write: start/a.txt
//	    content: "hello"
//	assertions:
//	  - type: file_content
//	    path: mid/a.txt
//	    content: "hello"
//	  - type: job_count
//	    pattern: first
//	    status: done
//	    count: 1
//
// Definitions use the same shape as the files under a state directory and
// go through the same validation.
//
// # Recipe Actions
//
// Jobs are executed in process. The `action` key of a recipe's payload
// selects what a job does:
//
//   - copy: copy the triggering file to every output
//   - touch: produce the job's result but write no outputs
//   - fail: fail the job
//
// # Assertion Types
//
//   - file_content: a managed file exists with exactly the given content
//   - file_exists / file_absent: a managed file does or does not exist
//   - job_count: the number of jobs, optionally narrowed by pattern and status
//
// # Determinism
//
// Job ids and rule ids come from a sequence generator, and the trace lists
// jobs sorted by pattern and path, so the trace of a scenario is identical
// across runs and suitable for golden file comparison.
package harness
