package traverse

import (
	"testing"

	"github.com/golang/geo/r3"

	"github.com/mohammed-shakir/tilestream/internal/significance"
	"github.com/mohammed-shakir/tilestream/internal/tiles"
)

func specAt(id string, x, gerr float64, kids ...*tiles.NodeSpec) *tiles.NodeSpec {
	return &tiles.NodeSpec{
		ID:             id,
		Region:         tiles.Region{x - 1, -1, x + 1, 1, -1, 1},
		GeometricError: gerr,
		ContentRef:     id,
		Children:       kids,
	}
}

// root scores 1.0, near child 0.1, far child 0.002
func threeLevel(t *testing.T, grandchildUnderFar bool) *tiles.Tileset {
	t.Helper()
	gc := specAt("gc", 1000, 0.1)
	near := specAt("near", 20, 2)
	far := specAt("far", 1000, 2)
	if grandchildUnderFar {
		far.Children = []*tiles.NodeSpec{gc}
	} else {
		near.Children = []*tiles.NodeSpec{gc}
	}
	ts, err := tiles.Build(specAt("root", 10, 10, near, far), r3.Vector{}, tiles.BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return ts
}

func ids(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Node.ID)
	}
	return out
}

func TestCollect_PrunesBelowThresholdSubtree(t *testing.T) {
	ts := threeLevel(t, true)
	cands, st, err := CollectCandidates(ts, r3.Vector{}, tiles.NewResidentSet(), significance.New(0.01))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got := ids(cands)
	want := []string{"root", "near", "far"}
	if len(got) != len(want) {
		t.Fatalf("candidates=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates=%v want %v", got, want)
		}
	}
	if st.Visited != 3 || st.Refined != 1 || st.Emitted != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if cands[0].Score != 1.0 {
		t.Fatalf("root score=%v want 1", cands[0].Score)
	}
}

func TestCollect_RefinesAboveThresholdChild(t *testing.T) {
	ts := threeLevel(t, false)
	cands, st, err := CollectCandidates(ts, r3.Vector{}, nil, significance.New(0.01))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got := ids(cands)
	if len(got) != 4 || got[3] != "gc" {
		t.Fatalf("candidates=%v want root,near,far,gc", got)
	}
	if st.Refined != 2 {
		t.Fatalf("refined=%d want 2", st.Refined)
	}
}

func TestCollect_SkipsPendingButStillRefines(t *testing.T) {
	ts := threeLevel(t, false)
	rs := tiles.NewResidentSet()
	rs.MarkResident("root")
	if !rs.TryAcquire("near") {
		t.Fatalf("acquire near")
	}

	cands, st, err := CollectCandidates(ts, r3.Vector{}, rs, significance.New(0.01))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got := ids(cands)
	if len(got) != 2 || got[0] != "far" || got[1] != "gc" {
		t.Fatalf("candidates=%v want far,gc", got)
	}
	if st.Visited != 4 {
		t.Fatalf("visited=%d want 4", st.Visited)
	}
}

func TestCollect_NothingRefinesAtHighThreshold(t *testing.T) {
	ts := threeLevel(t, false)
	cands, _, err := CollectCandidates(ts, r3.Vector{}, nil, significance.New(5))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := ids(cands); len(got) != 1 || got[0] != "root" {
		t.Fatalf("candidates=%v want root only", got)
	}
}

func TestCollect_ViewpointInsideRootRefinesEverything(t *testing.T) {
	ts := threeLevel(t, true)
	// viewpoint at root center: +Inf score, children evaluated on their own
	cands, _, err := CollectCandidates(ts, r3.Vector{X: 10}, nil, significance.New(0.01))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(cands) < 3 {
		t.Fatalf("candidates=%v", ids(cands))
	}
}
