package engine

import (
	pathpkg "path"
	"path/filepath"
	"strings"

	"github.com/roach88/meow/internal/model"
)

// Keywords substituted into every string parameter of a job when it is
// scheduled.
const (
	KeywordPath      = "{PATH}"      // absolute triggering path
	KeywordRelPath   = "{REL_PATH}"  // triggering path relative to the managed root
	KeywordDir       = "{DIR}"       // absolute directory of the triggering file
	KeywordRelDir    = "{REL_DIR}"   // that directory relative to the managed root
	KeywordFilename  = "{FILENAME}"  // base name
	KeywordPrefix    = "{PREFIX}"    // base name without extension
	KeywordExtension = "{EXTENSION}" // extension including the dot
	KeywordVGrid     = "{VGRID}"     // name of the managed root
	KeywordJob       = "{JOB}"       // job id
)

// keywordReplacer builds the substitution for one job. root and path are
// absolute; rel is path relative to root using forward slashes.
func keywordReplacer(root, path, rel, jobID string) *strings.Replacer {
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	// A file directly under the root has an empty relative directory.
	relDir := pathpkg.Dir(rel)
	if relDir == "." {
		relDir = ""
	}
	return strings.NewReplacer(
		KeywordPath, path,
		KeywordRelPath, rel,
		KeywordDir, filepath.Dir(path),
		KeywordRelDir, relDir,
		KeywordFilename, filename,
		KeywordPrefix, strings.TrimSuffix(filename, ext),
		KeywordExtension, ext,
		KeywordVGrid, filepath.Base(root),
		KeywordJob, jobID,
	)
}

// replaceKeywords returns a copy of v with every string, at any depth,
// passed through r.
func replaceKeywords(v any, r *strings.Replacer) any {
	switch val := v.(type) {
	case string:
		return r.Replace(val)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = replaceKeywords(e, r)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = replaceKeywords(e, r)
		}
		return s
	default:
		return v
	}
}

// outputTemplate rewrites the output wildcard as the prefix keyword so an
// output like `end/*.txt` becomes `end/data.txt` for trigger `start/data.txt`.
func outputTemplate(location string) string {
	return strings.ReplaceAll(location, model.OutputWildcard, KeywordPrefix)
}
