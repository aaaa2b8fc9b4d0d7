package monitor

import (
	"time"

	"github.com/roach88/meow/internal/model"
)

// FileEventType classifies a data file event.
type FileEventType string

const (
	FileCreated  FileEventType = "created"
	FileModified FileEventType = "modified"
	FileDeleted  FileEventType = "deleted"
)

// FileEvent reports activity on one file under the managed root. Path is
// absolute and NFC-normalized.
type FileEvent struct {
	Path string
	Type FileEventType
	Time time.Time
}

// StateOp is the operation a StateEvent carries.
type StateOp string

const (
	StateCreate  StateOp = "create"
	StateDeleted StateOp = "deleted"
)

// Kind says which definition table a StateEvent concerns.
type Kind string

const (
	KindPattern Kind = "pattern"
	KindRecipe  Kind = "recipe"
)

// StateEvent reports a definition change. For StateCreate exactly one of
// Pattern and Recipe is set, matching Kind. For StateDeleted only Name is
// meaningful.
type StateEvent struct {
	Op      StateOp
	Kind    Kind
	Name    string
	Pattern *model.Pattern
	Recipe  *model.Recipe
}
