// Package job defines the job record and its on-disk directory.
//
// A job is one scheduled execution of a recipe for a triggering file. Each job
// owns a directory under the jobs root, named after its id, holding:
//
//	job.yml       metadata and lifecycle status
//	base.ipynb    the recipe payload, unexecuted
//	params.yml    the resolved parameters
//	job.ipynb     the parameterized payload, produced by the executor
//	result.ipynb  the executed result, produced by the executor
//
// The directory is the source of truth for a job. The administrator creates
// it; from dequeue onwards a single worker is the only writer.
package job
