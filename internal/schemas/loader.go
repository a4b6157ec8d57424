// Package schemas holds the JSON Schemas that language-model output must
// satisfy before it is trusted.
package schemas

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed *.schema.json
var schemaFS embed.FS

const (
	FindingItem = "finding-item"
	Analysis    = "analysis"
)

var names = []string{FindingItem, Analysis}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func load() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range names {
			data, err := schemaFS.ReadFile(name + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", name, err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("decode schema %s: %w", name, err)
				return
			}
			if err := c.AddResource(schemaURL(name), doc); err != nil {
				compileErr = fmt.Errorf("register schema %s: %w", name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := c.Compile(schemaURL(name))
			if err != nil {
				compileErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[name] = s
		}
		compiled = out
	})
	return compiled, compileErr
}

func schemaURL(name string) string {
	return fmt.Sprintf("mem://schemas/%s.schema.json", name)
}

// Decode parses raw JSON into the generic form the validator expects.
func Decode(raw []byte) (any, error) {
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// Validate checks a value produced by Decode against the named schema.
func Validate(name string, v any) error {
	all, err := load()
	if err != nil {
		return err
	}
	s, ok := all[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	return s.Validate(v)
}
