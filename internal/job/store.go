package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meow/internal/fsutil"
)

// Fixed file names inside a job directory.
const (
	MetaFile   = "job.yml"
	BaseFile   = "base.ipynb"
	ParamsFile = "params.yml"
	JobFile    = "job.ipynb"
	ResultFile = "result.ipynb"
)

// ErrNotFound is returned when a job directory or its metadata is missing.
var ErrNotFound = errors.New("job not found")

// Store reads and writes job directories under a single root. Writes go
// through a temp file and rename so a reader never sees a partial file.
//
// Store holds no in-memory state and may be shared between goroutines as long
// as each job directory has a single writer at a time.
type Store struct {
	root string
}

// NewStore creates root if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("job store root is empty")
	}
	if err := fsutil.EnsureDir(root, 0o755); err != nil {
		return nil, fmt.Errorf("create job store %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the jobs root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory for a job id.
func (s *Store) Dir(id string) string { return filepath.Join(s.root, id) }

// Path returns the path of one of the fixed files of a job.
func (s *Store) Path(id, name string) string { return filepath.Join(s.root, id, name) }

// Create writes a new job directory: the unexecuted payload, the resolved
// parameters and the metadata, in that order, so that a job.yml on disk
// always has its inputs next to it.
func (s *Store) Create(j *Job, payload map[string]any, params map[string]any) error {
	if j.ID == "" {
		return fmt.Errorf("create job: id is empty")
	}
	dir := s.Dir(j.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("create job %s: directory already exists", j.ID)
	}
	if err := fsutil.EnsureDir(dir, 0o755); err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}

	base, err := jsonMarshalStable(payload)
	if err != nil {
		return fmt.Errorf("create job %s: encode payload: %w", j.ID, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, BaseFile), base, 0o644); err != nil {
		return fmt.Errorf("create job %s: write payload: %w", j.ID, err)
	}

	p, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("create job %s: encode params: %w", j.ID, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, ParamsFile), p, 0o644); err != nil {
		return fmt.Errorf("create job %s: write params: %w", j.ID, err)
	}
	return s.Save(j)
}

// Save rewrites the job's metadata file.
func (s *Store) Save(j *Job) error {
	data, err := yaml.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	if err := fsutil.WriteFileAtomic(s.Path(j.ID, MetaFile), data, 0o644); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// Load reads a job's metadata.
func (s *Store) Load(id string) (*Job, error) {
	data, err := os.ReadFile(s.Path(id, MetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if !j.Status.Valid() {
		return nil, fmt.Errorf("decode job %s: unknown status %q", id, j.Status)
	}
	return &j, nil
}

// Params reads a job's resolved parameters.
func (s *Store) Params(id string) (map[string]any, error) {
	data, err := os.ReadFile(s.Path(id, ParamsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read params of job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read params of job %s: %w", id, err)
	}
	params := map[string]any{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode params of job %s: %w", id, err)
	}
	return params, nil
}

// Exists reports whether a job directory holds the named file.
func (s *Store) Exists(id, name string) bool {
	info, err := os.Stat(s.Path(id, name))
	return err == nil && !info.IsDir()
}

// List loads every job under the root in id order. Directories without a
// metadata file are skipped; unreadable metadata is an error.
func (s *Store) List() ([]*Job, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var jobs []*Job
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		j, err := s.Load(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	return jobs, nil
}

// Remove deletes a job directory.
func (s *Store) Remove(id string) error {
	if id == "" {
		return fmt.Errorf("remove job: id is empty")
	}
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	return nil
}

// Clear deletes every job directory, leaving the root in place.
func (s *Store) Clear() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
	}
	return nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
