// Package yamlprd implements the YAML PRD Tracker backend (spec.md §4.C):
// tasks are stored in document order in .ralph/tasks.yaml, with no priority
// sort.
package yamlprd

import (
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jscraik/ralph-gold/internal/tracker"
	"github.com/jscraik/ralph-gold/internal/tracker/fileprd"
)

func init() {
	tracker.Register("yaml", New)
}

type yamlCodec struct{}

func (yamlCodec) Unmarshal(data []byte, doc *fileprd.Document) error {
	return yaml.Unmarshal(data, doc)
}

func (yamlCodec) Marshal(doc fileprd.Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// New constructs a YAML Tracker rooted at "<projectRoot>/.ralph/tasks.yaml".
func New(projectRoot string) (tracker.Tracker, error) {
	path := filepath.Join(projectRoot, ".ralph", "tasks.yaml")
	return fileprd.New(path, yamlCodec{}, false), nil
}
