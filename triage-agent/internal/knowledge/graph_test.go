package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGraph_SymptomReachesTreatments(t *testing.T) {
	g := DefaultGraph()

	rels := g.Query("I have had a fever since Monday")
	require.NotEmpty(t, rels)
	assert.Equal(t, Relation{Subject: "fever", Relation: MayIndicate, Object: "flu"}, rels[0])
	assert.Contains(t, rels, Relation{Subject: "flu", Relation: TreatedWith, Object: "antiviral medication"})
	assert.Contains(t, rels, Relation{Subject: "pneumonia", Relation: TreatedWith, Object: "antibiotics"})
}

func TestGraph_MatchIsWholePhrase(t *testing.T) {
	g := DefaultGraph()

	assert.Equal(t, []string{"chest pain", "shortness of breath"}, g.Match("Shortness of breath and CHEST PAIN!"))
	assert.Equal(t, []string{"COVID-19"}, g.Match("could this be covid 19?"))
	assert.Empty(t, g.Match("what's the weather today"))
	// "rest" must not match inside "arrest"
	assert.Empty(t, g.Match("cardiac arrest"))
}

func TestGraph_ConditionQueryFollowsTreatments(t *testing.T) {
	rels := DefaultGraph().Query("migraine")
	assert.Equal(t, []Relation{
		{Subject: "migraine", Relation: TreatedWith, Object: "pain relievers"},
		{Subject: "migraine", Relation: TreatedWith, Object: "rest"},
	}, rels)
}

func TestGraph_NoDuplicateRelations(t *testing.T) {
	rels := DefaultGraph().Query("fever and cough")
	seen := map[Relation]bool{}
	for _, r := range rels {
		assert.False(t, seen[r], "duplicate %v", r)
		seen[r] = true
	}
}

func TestGraph_AddEdgeValidatesKinds(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddNode("fever", Symptom))
	require.NoError(t, g.AddNode("flu", Condition))
	require.NoError(t, g.AddNode("rest", Treatment))

	assert.NoError(t, g.AddEdge("fever", MayIndicate, "flu"))
	assert.NoError(t, g.AddEdge("flu", TreatedWith, "rest"))
	assert.Error(t, g.AddEdge("fever", TreatedWith, "rest"))
	assert.Error(t, g.AddEdge("flu", MayIndicate, "fever"))
	assert.Error(t, g.AddEdge("fever", "causes", "flu"))
	assert.Error(t, g.AddNode("flu", Symptom))
	assert.Error(t, g.AddNode("x", "organ"))
}

func TestFormatRelations(t *testing.T) {
	assert.Equal(t, "No relevant information found in knowledge graph.", FormatRelations(nil))

	out := FormatRelations([]Relation{
		{Subject: "fever", Relation: MayIndicate, Object: "flu"},
		{Subject: "flu", Relation: TreatedWith, Object: "rest"},
		{Subject: "fever", Relation: MayIndicate, Object: "pneumonia"},
	})
	assert.Equal(t, "fever may indicate: flu, pneumonia\nflu treated with: rest", out)
}

func TestLoadGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symptoms: [rash]
conditions: [eczema]
treatments: [moisturiser]
may_indicate:
  rash: [eczema]
treated_with:
  eczema: [moisturiser]
`), 0o644))

	g, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rash", "eczema", "moisturiser"}, g.Terms())
	assert.Equal(t, []Relation{
		{Subject: "rash", Relation: MayIndicate, Object: "eczema"},
		{Subject: "eczema", Relation: TreatedWith, Object: "moisturiser"},
	}, g.Query("itchy rash"))
}

func TestParseGraph_RejectsUnknownNode(t *testing.T) {
	_, err := ParseGraph([]byte("symptoms: [rash]\nmay_indicate:\n  rash: [eczema]\n"))
	assert.Error(t, err)
}
