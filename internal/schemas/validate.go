// Package schemas checks drafts and transcripts against the embedded JSON
// Schemas before they are persisted on a subject.
package schemas

import (
	"fmt"
	"strings"
	"sync"

	rootschemas "github.com/jonathan/slide-narrator/schemas"
	"github.com/xeipuuv/gojsonschema"
)

// Schema file names under the root schemas directory
const (
	PageDraftsSchema = "page_drafts.schema.json"
	TranscriptSchema = "transcript.schema.json"
)

// Violation is one failed constraint at a JSON path
type Violation struct {
	Path   string
	Reason string
}

// ValidationError lists every violation found in a document
type ValidationError struct {
	Schema     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Path + ": " + v.Reason
	}
	return fmt.Sprintf("document does not match %s: %s", e.Schema, strings.Join(parts, "; "))
}

// SchemaLoadError means an embedded schema is missing or does not compile
type SchemaLoadError struct {
	Name  string
	Cause error
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("failed to load schema %s: %v", e.Name, e.Cause)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

type compiled struct {
	once   sync.Once
	schema *gojsonschema.Schema
	err    error
}

var cache sync.Map // name -> *compiled

func schemaFor(name string) (*gojsonschema.Schema, error) {
	v, _ := cache.LoadOrStore(name, &compiled{})
	c := v.(*compiled)
	c.once.Do(func() {
		data, err := rootschemas.FS.ReadFile(name)
		if err != nil {
			c.err = &SchemaLoadError{Name: name, Cause: err}
			return
		}
		c.schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			c.err = &SchemaLoadError{Name: name, Cause: err}
		}
	})
	return c.schema, c.err
}

// Validate checks document against the named embedded schema. Malformed JSON
// is reported as a plain error, constraint failures as *ValidationError.
func Validate(name string, document []byte) error {
	schema, err := schemaFor(name)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("failed to parse document for %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Schema: name}
	for _, re := range result.Errors() {
		path := re.Field()
		if path == "" {
			path = "(root)"
		}
		verr.Violations = append(verr.Violations, Violation{Path: path, Reason: re.Description()})
	}
	return verr
}

// ValidatePageDrafts validates serialized page drafts
func ValidatePageDrafts(document []byte) error {
	return Validate(PageDraftsSchema, document)
}

// ValidateTranscript validates a serialized transcript
func ValidateTranscript(document []byte) error {
	return Validate(TranscriptSchema, document)
}
