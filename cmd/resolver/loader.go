package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/resolver/internal/query"
	"github.com/rendis/resolver/pkg/schema"
)

// jobFile is a job document as written by hand. Each field may be the text
// the resolver consumes or the structured value itself, which is serialized
// to text on load. YAML documents are accepted wherever JSON is.
type jobFile struct {
	Condition          any                    `json:"condition"`
	TerminateCondition any                    `json:"terminate_condition,omitempty"`
	Vars               any                    `json:"vars"`
	Msgs               any                    `json:"msgs"`
	ExternalInputs     []schema.ExternalInput `json:"external_inputs,omitempty"`
	Exec               *schema.ExecContext    `json:"exec,omitempty"`
}

// job is a loaded job with every field in text form.
type job struct {
	Definition     schema.JobDefinition
	ExternalInputs []schema.ExternalInput
	Exec           schema.ExecContext
}

// readSource reads path, or stdin when path is "-".
func readSource(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// toJSON normalizes a JSON or YAML document to JSON bytes. Files with a .yaml
// or .yml extension are read as YAML; anything else is tried as JSON first.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && json.Valid(data) {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert %s to JSON: %w", path, err)
	}
	return out, nil
}

// loadDocument reads path and decodes it into v, preserving number text.
func loadDocument(path string, stdin io.Reader, v any) error {
	data, err := readSource(path, stdin)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	data, err = toJSON(path, data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func loadJob(path string, stdin io.Reader) (*job, error) {
	var f jobFile
	if err := loadDocument(path, stdin, &f); err != nil {
		return nil, err
	}

	j := &job{ExternalInputs: f.ExternalInputs}
	if f.Exec != nil {
		j.Exec = *f.Exec
	}
	fields := []struct {
		name string
		src  any
		dst  *string
	}{
		{"condition", f.Condition, &j.Definition.Condition},
		{"terminate_condition", f.TerminateCondition, &j.Definition.TerminateCondition},
		{"vars", f.Vars, &j.Definition.Vars},
		{"msgs", f.Msgs, &j.Definition.Msgs},
	}
	for _, fl := range fields {
		text, err := textField(fl.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fl.name, err)
		}
		*fl.dst = text
	}
	return j, nil
}

// textField returns strings as they are and serializes anything else.
func textField(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// loadFixtures reads a fixtures document in JSON or YAML.
func loadFixtures(path string) ([]query.Fixture, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return query.LoadFixtures(path)
	}
	var raw []map[string]any
	if err := loadDocument(path, nil, &raw); err != nil {
		return nil, err
	}
	fixtures := make([]query.Fixture, 0, len(raw))
	for i, r := range raw {
		req, err := json.Marshal(r["request"])
		if err != nil {
			return nil, fmt.Errorf("fixture %d request: %w", i, err)
		}
		resp, err := json.Marshal(r["response"])
		if err != nil {
			return nil, fmt.Errorf("fixture %d response: %w", i, err)
		}
		fixtures = append(fixtures, query.Fixture{Request: req, Response: resp})
	}
	return fixtures, nil
}

// inlineOrFile treats an argument starting with "@" as a path to read.
func inlineOrFile(arg string, stdin io.Reader) (string, error) {
	if !strings.HasPrefix(arg, "@") {
		return arg, nil
	}
	path := strings.TrimPrefix(arg, "@")
	data, err := readSource(path, stdin)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	data, err = toJSON(path, data)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
