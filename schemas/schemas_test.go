package schemas

import (
	"encoding/json"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedSchemas(t *testing.T) {
	names, err := fs.Glob(FS, "*.schema.json")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"page_drafts.schema.json", "transcript.schema.json"}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			data, err := FS.ReadFile(name)
			require.NoError(t, err)

			var doc struct {
				Schema   string         `json:"$schema"`
				Title    string         `json:"title"`
				Type     string         `json:"type"`
				Required []string       `json:"required"`
				Props    map[string]any `json:"properties"`
			}
			require.NoError(t, json.Unmarshal(data, &doc), "schema must be valid JSON")
			assert.NotEmpty(t, doc.Schema)
			assert.NotEmpty(t, doc.Title)
			assert.Equal(t, "object", doc.Type)
			for _, field := range doc.Required {
				assert.Contains(t, doc.Props, field, "required field %s has no property", field)
			}
		})
	}
}
