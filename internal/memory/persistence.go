package memory

import "github.com/meshagent/meshnode/internal/statefile"

// OpenAt loads memory.json at path (tolerating a missing/unparseable file)
// and returns a Store wired to persist back to the same path on every
// mutation.
func OpenAt(path string) (*Store, error) {
	var doc Document
	if err := statefile.Load(path, &doc); err != nil {
		doc = Document{}
	}
	s := New(func(d Document) error {
		return statefile.Save(path, d)
	})
	s.Load(doc)
	return s, nil
}
