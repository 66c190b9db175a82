// Package prompts holds the narration prompt templates. Templates are stored
// as JSON files, embedded at compile time and rendered with text/template.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"text/template"
)

//go:embed *.json
var promptFiles embed.FS

// Narration is the prompt file used by the narration stages
const Narration = "narration.json"

// Prompt keys in narration.json
const (
	KeyCornerstone = "cornerstone"
	KeyPage        = "page"
	KeySpeech      = "speech"
)

var (
	cache   = make(map[string]map[string]string)
	parsed  = make(map[string]*template.Template)
	cacheMu sync.RWMutex
)

// Get returns the raw template stored under key in filename
func Get(filename, key string) (string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return "", err
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// MustGet is Get for prompts required at start-up
func MustGet(filename, key string) string {
	prompt, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return prompt
}

// Render executes the template under key with data. Missing fields are an
// error rather than "<no value>" in the prompt.
func Render(filename, key string, data any) (string, error) {
	tmpl, err := lookup(filename, key)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s/%s: %w", filename, key, err)
	}
	return buf.String(), nil
}

// List returns the prompt keys in a file, sorted
func List(filename string) ([]string, error) {
	prompts, err := loadFile(filename)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ClearCache drops loaded and parsed prompts
func ClearCache() {
	cacheMu.Lock()
	cache = make(map[string]map[string]string)
	parsed = make(map[string]*template.Template)
	cacheMu.Unlock()
}

func lookup(filename, key string) (*template.Template, error) {
	name := filename + "/" + key
	cacheMu.RLock()
	tmpl, ok := parsed[name]
	cacheMu.RUnlock()
	if ok {
		return tmpl, nil
	}

	raw, err := Get(filename, key)
	if err != nil {
		return nil, err
	}
	tmpl, err = template.New(name).Option("missingkey=error").Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt %s: %w", name, err)
	}

	cacheMu.Lock()
	parsed[name] = tmpl
	cacheMu.Unlock()
	return tmpl, nil
}

func loadFile(filename string) (map[string]string, error) {
	cacheMu.RLock()
	prompts, ok := cache[filename]
	cacheMu.RUnlock()
	if ok {
		return prompts, nil
	}

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	cacheMu.Lock()
	cache[filename] = prompts
	cacheMu.Unlock()
	return prompts, nil
}
