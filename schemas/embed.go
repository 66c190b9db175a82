// Package schemas holds the JSON Schemas for state persisted on a subject.
package schemas

import "embed"

// FS contains every *.schema.json file in this directory
//
//go:embed *.schema.json
var FS embed.FS
