// Package jsonprd implements the JSON PRD Tracker backend (spec.md §4.C):
// tasks are stored as a priority-sorted list in .ralph/prd.json.
package jsonprd

import (
	"encoding/json"
	"path/filepath"

	"github.com/jscraik/ralph-gold/internal/tracker"
	"github.com/jscraik/ralph-gold/internal/tracker/fileprd"
)

func init() {
	tracker.Register("json", New)
}

type jsonCodec struct{}

func (jsonCodec) Unmarshal(data []byte, doc *fileprd.Document) error {
	return json.Unmarshal(data, doc)
}

func (jsonCodec) Marshal(doc fileprd.Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// New constructs a JSON Tracker rooted at "<projectRoot>/.ralph/prd.json".
func New(projectRoot string) (tracker.Tracker, error) {
	path := filepath.Join(projectRoot, ".ralph", "prd.json")
	return fileprd.New(path, jsonCodec{}, true), nil
}
