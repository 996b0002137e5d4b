package schema

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultStages is the stage list used when a pipeline declares none.
var DefaultStages = []string{".pre", "build", "test", "deploy", ".post"}

// reservedKeys are top-level keys that configure the pipeline rather than
// declare a job.
var reservedKeys = map[string]bool{
	"stages":        true,
	"variables":     true,
	"default":       true,
	"include":       true,
	"image":         true,
	"services":      true,
	"before_script": true,
	"after_script":  true,
	"cache":         true,
	"workflow":      true,
	"artifacts":     true,
}

// Pipeline is a loaded pipeline document. Job bodies stay as raw mappings
// because inheritance is resolved over the untyped tree.
type Pipeline struct {
	Stages    []string
	Variables Variables
	// Globals is the whole document; fragments and the default block are
	// looked up here by name.
	Globals  map[string]any
	JobNames []string // document order
	Jobs     map[string]map[string]any
}

// LoadFile reads a pipeline document from fs.
func LoadFile(fs afero.Fs, path string) (*Pipeline, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a pipeline document from a reader.
func Load(r io.Reader) (*Pipeline, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("structural decode: empty document")
		}
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("structural decode: top level must be a mapping")
	}
	doc := root.Content[0]

	p := &Pipeline{
		Globals: make(map[string]any),
		Jobs:    make(map[string]map[string]any),
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		var value any
		if err := doc.Content[i+1].Decode(&value); err != nil {
			return nil, fmt.Errorf("structural decode %q: %w", key, err)
		}
		p.Globals[key] = value

		if reservedKeys[key] || strings.HasPrefix(key, ".") {
			continue
		}
		body, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("job %q: expected mapping, got %T", key, value)
		}
		p.JobNames = append(p.JobNames, key)
		p.Jobs[key] = body
	}

	if raw, ok := p.Globals["stages"]; ok {
		stages, err := flattenStrings(raw)
		if err != nil {
			return nil, fmt.Errorf("stages: %w", err)
		}
		p.Stages = stages
	} else {
		p.Stages = append([]string(nil), DefaultStages...)
	}

	vars, err := NormalizeVariables(p.Globals["variables"])
	if err != nil {
		return nil, err
	}
	p.Variables = vars
	return p, nil
}

// MaxJobNameLength returns the longest job name, used to align output columns.
func (p *Pipeline) MaxJobNameLength() int {
	longest := 0
	for _, name := range p.JobNames {
		if w := runewidth.StringWidth(name); w > longest {
			longest = w
		}
	}
	return longest
}
