package spec

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a scenario. Steps may be plain strings
// ("When I search for <keyword>") or keyword/text mappings.
type Document struct {
	Name        string            `yaml:"name"`
	Feature     string            `yaml:"feature,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`
	Steps       []DocumentStep    `yaml:"steps"`
	Variants    []Variant         `yaml:"variants,omitempty"`
}

// DocumentStep accepts either scalar or mapping YAML.
type DocumentStep struct {
	Step
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DocumentStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Keyword, d.Text = splitKeyword(node.Value)
		d.Line = node.Line
		return nil
	}
	var step Step
	if err := node.Decode(&step); err != nil {
		return err
	}
	if step.Keyword == "" {
		step.Keyword, step.Text = splitKeyword(step.Text)
	}
	step.Line = node.Line
	d.Step = step
	return nil
}

// Variant derives an extra scenario from a document.
type Variant struct {
	Name       string            `yaml:"name,omitempty"`
	NameSuffix string            `yaml:"name_suffix,omitempty"`
	Tags       []string          `yaml:"tags,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
}

var stepKeywords = []string{"Given", "When", "Then", "And", "But", "*"}

func splitKeyword(line string) (string, string) {
	line = strings.TrimSpace(line)
	for _, kw := range stepKeywords {
		if strings.HasPrefix(line, kw+" ") {
			return kw, strings.TrimSpace(line[len(kw):])
		}
	}
	return "", line
}

// LoadSpecs reads all YAML/JSON scenario documents under root recursively.
// Files may hold several documents separated by "---".
func LoadSpecs(root string) ([]Scenario, error) {
	var scenarios []Scenario
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSpecFile(path) {
			return nil
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		parsed, err := ParseDocuments(payload, path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, parsed...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scenarios, nil
}

// ParseDocuments decodes every document in payload.
func ParseDocuments(payload []byte, source string) ([]Scenario, error) {
	var out []Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	for index := 0; ; index++ {
		var doc Document
		if err := decoder.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrapf(err, "decode %s", source)
		}
		if doc.Name == "" && len(doc.Steps) == 0 {
			continue
		}
		if doc.Name == "" {
			doc.Name = strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		}
		out = append(out, expand(doc, source, index)...)
	}
	return out, nil
}

// LoadAll loads feature files and YAML documents under root.
func LoadAll(root string) ([]Scenario, error) {
	features, err := LoadFeatures(root)
	if err != nil {
		return nil, err
	}
	docs, err := LoadSpecs(root)
	if err != nil {
		return nil, err
	}
	return append(features, docs...), nil
}

func isSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

func expand(doc Document, source string, index int) []Scenario {
	if len(doc.Variants) == 0 {
		return []Scenario{build(doc, doc.Name, doc.Tags, doc.Params, source, fmt.Sprintf("%d", index))}
	}
	out := make([]Scenario, 0, len(doc.Variants))
	for i, variant := range doc.Variants {
		params := mergeParams(doc.Params, variant.Params)
		id := fmt.Sprintf("%d.%d", index, i+1)
		out = append(out, build(doc, variantName(doc.Name, variant, i), mergeTags(doc.Tags, variant.Tags), params, source, id))
	}
	return out
}

func build(doc Document, name string, tags []string, params map[string]string, source, suffix string) Scenario {
	sc := Scenario{
		ID:          filepath.ToSlash(source) + "#" + suffix,
		Name:        substitute(name, params),
		Feature:     doc.Feature,
		Description: doc.Description,
		Source:      source,
		Tags:        tags,
	}
	for _, ds := range doc.Steps {
		step := ds.Step
		step.Text = substitute(step.Text, params)
		step.DocString = substitute(step.DocString, params)
		sc.Steps = append(sc.Steps, step)
	}
	return sc
}

var placeholder = regexp.MustCompile(`<([A-Za-z0-9_.-]+)>`)

// substitute replaces <param> placeholders; unknown names are left as-is.
func substitute(text string, params map[string]string) string {
	if len(params) == 0 || text == "" {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		if value, ok := params[match[1:len(match)-1]]; ok {
			return value
		}
		return match
	})
}

func variantName(baseName string, variant Variant, index int) string {
	if name := strings.TrimSpace(variant.Name); name != "" {
		return name
	}
	if suffix := strings.TrimSpace(variant.NameSuffix); suffix != "" {
		return baseName + " - " + suffix
	}
	return fmt.Sprintf("%s #%d", baseName, index+1)
}

func mergeParams(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		if strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	return out
}

func mergeTags(base []string, extra []string) []string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, tag := range append(append([]string{}, base...), extra...) {
		value := strings.TrimSpace(tag)
		key := strings.ToLower(NormalizeTag(value))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}
	return out
}
