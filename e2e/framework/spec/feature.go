package spec

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gherkin "github.com/cucumber/gherkin/go/v26"
	messages "github.com/cucumber/messages/go/v21"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LoadFeatures compiles every .feature file under root into scenarios.
// Backgrounds are prepended and outlines expanded per example row.
func LoadFeatures(root string) ([]Scenario, error) {
	var scenarios []Scenario
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".feature") {
			return nil
		}
		parsed, err := ParseFeatureFile(path)
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

// ParseFeatureFile compiles one feature file.
func ParseFeatureFile(path string) ([]Scenario, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	doc, err := gherkin.ParseGherkinDocument(file, uuid.NewString)
	if err != nil {
		return nil, errors.Wrapf(err, "parse feature %s", path)
	}
	return compile(doc, path), nil
}

// nodeInfo is what pickles lose from the AST: keywords and line numbers.
type nodeInfo struct {
	keyword string
	line    int
}

func compile(doc *messages.GherkinDocument, uri string) []Scenario {
	if doc == nil || doc.Feature == nil {
		return nil
	}
	nodes := map[string]nodeInfo{}
	indexFeature(doc.Feature, nodes)

	pickles := gherkin.Pickles(*doc, uri, uuid.NewString)
	out := make([]Scenario, 0, len(pickles))
	for _, pickle := range pickles {
		sc := Scenario{
			Name:        pickle.Name,
			Feature:     doc.Feature.Name,
			Description: strings.TrimSpace(doc.Feature.Description),
			Source:      uri,
		}
		// The last AST node is the example row for outlines, the scenario otherwise.
		if n := len(pickle.AstNodeIds); n > 0 {
			sc.Line = nodes[pickle.AstNodeIds[n-1]].line
		}
		sc.ID = fmt.Sprintf("%s:%d", filepath.ToSlash(uri), sc.Line)
		for _, tag := range pickle.Tags {
			sc.Tags = append(sc.Tags, tag.Name)
		}
		for _, ps := range pickle.Steps {
			sc.Steps = append(sc.Steps, pickleStep(ps, nodes))
		}
		out = append(out, sc)
	}
	return out
}

func pickleStep(ps *messages.PickleStep, nodes map[string]nodeInfo) Step {
	step := Step{Text: ps.Text}
	if len(ps.AstNodeIds) > 0 {
		info := nodes[ps.AstNodeIds[0]]
		step.Keyword = strings.TrimSpace(info.keyword)
		step.Line = info.line
	}
	if arg := ps.Argument; arg != nil {
		if arg.DocString != nil {
			step.DocString = arg.DocString.Content
		}
		if arg.DataTable != nil {
			for _, row := range arg.DataTable.Rows {
				cells := make([]string, 0, len(row.Cells))
				for _, cell := range row.Cells {
					cells = append(cells, cell.Value)
				}
				step.Table = append(step.Table, cells)
			}
		}
	}
	return step
}

func indexFeature(feature *messages.Feature, nodes map[string]nodeInfo) {
	for _, child := range feature.Children {
		switch {
		case child.Background != nil:
			indexSteps(child.Background.Steps, nodes)
		case child.Scenario != nil:
			indexScenario(child.Scenario, nodes)
		case child.Rule != nil:
			for _, rc := range child.Rule.Children {
				if rc.Background != nil {
					indexSteps(rc.Background.Steps, nodes)
				}
				if rc.Scenario != nil {
					indexScenario(rc.Scenario, nodes)
				}
			}
		}
	}
}

func indexScenario(sc *messages.Scenario, nodes map[string]nodeInfo) {
	nodes[sc.Id] = nodeInfo{keyword: sc.Keyword, line: line(sc.Location)}
	indexSteps(sc.Steps, nodes)
	for _, examples := range sc.Examples {
		for _, row := range examples.TableBody {
			nodes[row.Id] = nodeInfo{line: line(row.Location)}
		}
	}
}

func indexSteps(steps []*messages.Step, nodes map[string]nodeInfo) {
	for _, step := range steps {
		nodes[step.Id] = nodeInfo{keyword: step.Keyword, line: line(step.Location)}
	}
}

func line(loc *messages.Location) int {
	if loc == nil {
		return 0
	}
	return int(loc.Line)
}
