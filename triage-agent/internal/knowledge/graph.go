package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
)

// Node kinds.
const (
	Symptom   = "symptom"
	Condition = "condition"
	Treatment = "treatment"
)

// Edge labels. may_indicate links a symptom to a condition, treated_with
// links a condition to a treatment.
const (
	MayIndicate = "may_indicate"
	TreatedWith = "treated_with"
)

//go:embed default_graph.yaml
var defaultGraphYAML []byte

// Relation is one edge reached from a term that matched the query.
type Relation struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

func (r Relation) String() string {
	return r.Subject + " " + strings.ReplaceAll(r.Relation, "_", " ") + " " + r.Object
}

type edge struct {
	relation string
	to       string
}

// Graph is a small symptom -> condition -> treatment graph. It is built
// once and only read afterwards.
type Graph struct {
	names []string
	kinds map[string]string
	out   map[string][]edge
}

func NewGraph() *Graph {
	return &Graph{kinds: make(map[string]string), out: make(map[string][]edge)}
}

// AddNode registers a term. Re-adding a term with the same kind is a no-op.
func (g *Graph) AddNode(name, kind string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty node name")
	}
	switch kind {
	case Symptom, Condition, Treatment:
	default:
		return fmt.Errorf("unknown node kind %q", kind)
	}
	if existing, ok := g.kinds[name]; ok {
		if existing != kind {
			return fmt.Errorf("node %q already registered as %s", name, existing)
		}
		return nil
	}
	g.kinds[name] = kind
	g.names = append(g.names, name)
	return nil
}

// AddEdge links two registered nodes with one of the two fixed relations.
func (g *Graph) AddEdge(from, relation, to string) error {
	var wantFrom, wantTo string
	switch relation {
	case MayIndicate:
		wantFrom, wantTo = Symptom, Condition
	case TreatedWith:
		wantFrom, wantTo = Condition, Treatment
	default:
		return fmt.Errorf("unknown relation %q", relation)
	}
	if g.kinds[from] != wantFrom {
		return fmt.Errorf("%s edge must start at a %s, got %q", relation, wantFrom, from)
	}
	if g.kinds[to] != wantTo {
		return fmt.Errorf("%s edge must end at a %s, got %q", relation, wantTo, to)
	}
	for _, e := range g.out[from] {
		if e.relation == relation && e.to == to {
			return nil
		}
	}
	g.out[from] = append(g.out[from], edge{relation: relation, to: to})
	return nil
}

// Terms lists every node in insertion order.
func (g *Graph) Terms() []string {
	return append([]string(nil), g.names...)
}

// Match returns the nodes whose name occurs in text as a whole phrase,
// ignoring case and punctuation.
func (g *Graph) Match(text string) []string {
	hay := " " + strings.Join(processing.Tokenize(text), " ") + " "
	var out []string
	for _, name := range g.names {
		needle := strings.Join(processing.Tokenize(name), " ")
		if needle != "" && strings.Contains(hay, " "+needle+" ") {
			out = append(out, name)
		}
	}
	return out
}

// Query follows outgoing edges up to two hops from every matched node, so a
// symptom yields its conditions and their treatments.
func (g *Graph) Query(text string) []Relation {
	var out []Relation
	seen := make(map[Relation]bool)
	var walk func(from string, depth int)
	walk = func(from string, depth int) {
		if depth == 0 {
			return
		}
		for _, e := range g.out[from] {
			r := Relation{Subject: from, Relation: e.relation, Object: e.to}
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
			walk(e.to, depth-1)
		}
	}
	for _, name := range g.Match(text) {
		walk(name, 2)
	}
	return out
}

// FormatRelations renders relations one line per subject, in the order the
// subjects first appear.
func FormatRelations(relations []Relation) string {
	if len(relations) == 0 {
		return "No relevant information found in knowledge graph."
	}
	var order []string
	grouped := make(map[string][]string)
	for _, r := range relations {
		key := r.Subject + " " + strings.ReplaceAll(r.Relation, "_", " ")
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r.Object)
	}
	lines := make([]string, 0, len(order))
	for _, key := range order {
		lines = append(lines, key+": "+strings.Join(grouped[key], ", "))
	}
	return strings.Join(lines, "\n")
}

type graphFile struct {
	Symptoms    []string            `yaml:"symptoms"`
	Conditions  []string            `yaml:"conditions"`
	Treatments  []string            `yaml:"treatments"`
	MayIndicate map[string][]string `yaml:"may_indicate"`
	TreatedWith map[string][]string `yaml:"treated_with"`
}

// ParseGraph builds a graph from its YAML form.
func ParseGraph(data []byte) (*Graph, error) {
	var f graphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	g := NewGraph()
	for _, group := range []struct {
		kind  string
		names []string
	}{{Symptom, f.Symptoms}, {Condition, f.Conditions}, {Treatment, f.Treatments}} {
		for _, n := range group.names {
			if err := g.AddNode(n, group.kind); err != nil {
				return nil, err
			}
		}
	}
	if err := addEdges(g, MayIndicate, f.MayIndicate); err != nil {
		return nil, err
	}
	if err := addEdges(g, TreatedWith, f.TreatedWith); err != nil {
		return nil, err
	}
	return g, nil
}

func addEdges(g *Graph, relation string, edges map[string][]string) error {
	// map order is random; follow node insertion order instead
	froms := make([]string, 0, len(edges))
	for from := range edges {
		froms = append(froms, from)
	}
	pos := make(map[string]int, len(g.names))
	for i, n := range g.names {
		pos[n] = i
	}
	sort.Slice(froms, func(i, j int) bool { return pos[froms[i]] < pos[froms[j]] })

	for _, from := range froms {
		for _, to := range edges[from] {
			if err := g.AddEdge(from, relation, to); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadGraph reads a graph definition from a YAML file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	return ParseGraph(data)
}

// DefaultGraph returns the built-in symptom/condition/treatment graph.
func DefaultGraph() *Graph {
	g, err := ParseGraph(defaultGraphYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in graph is invalid: %v", err))
	}
	return g
}
