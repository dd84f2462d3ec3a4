package searchindex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestObjectByName(t *testing.T) {
	idx := loadFixture(t)

	got, ok := idx.ObjectByName("sail_on_client.checkpointer.Checkpointer.save_attributes")
	if !ok {
		t.Fatal("object not found")
	}
	want := Object{
		Prefix:   "sail_on_client.checkpointer.Checkpointer",
		Name:     "save_attributes",
		FullName: "sail_on_client.checkpointer.Checkpointer.save_attributes",
		DocName:  "saving/checkpoint_api",
		FileName: "saving/checkpoint_api.rst",
		Title:    "Checkpoint API",
		Anchor:   "sail_on_client.checkpointer.Checkpointer.save_attributes",
		Domain:   "py",
		Kind:     "method",
		Label:    "Python method",
		Prio:     1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ObjectByName mismatch (-want +got):\n%s", diff)
	}

	if _, ok := idx.ObjectByName("sail_on_client.nope"); ok {
		t.Error("unexpected match for unknown object")
	}
}

func TestObjectByNameDottedName(t *testing.T) {
	idx := smallIndex()
	idx.Objects["pkg"] = append(idx.Objects["pkg"], ObjectEntry{DocIndex: 1, TypeIndex: 0, Prio: 1, Anchor: "-", Name: "Client.Inner"})
	got, ok := idx.ObjectByName("pkg.Client.Inner")
	if !ok {
		t.Fatal("object not found")
	}
	if got.Prefix != "pkg" || got.Anchor != "class-pkg.Client.Inner" {
		t.Errorf("got prefix %q anchor %q", got.Prefix, got.Anchor)
	}
}

func TestResolveAnchor(t *testing.T) {
	tests := []struct {
		anchor, kind, full, want string
	}{
		{"", "class", "pkg.Client", "pkg.Client"},
		{"-", "function", "pkg.run", "function-pkg.run"},
		{"custom-anchor", "class", "pkg.Client", "custom-anchor"},
	}
	for _, tt := range tests {
		if got := ResolveAnchor(tt.anchor, tt.kind, tt.full); got != tt.want {
			t.Errorf("ResolveAnchor(%q, %q, %q) = %q, want %q", tt.anchor, tt.kind, tt.full, got, tt.want)
		}
	}
}

func TestDocSetJSON(t *testing.T) {
	var s DocSet
	if err := s.UnmarshalJSON([]byte("3")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DocSet{3}, s); diff != "" {
		t.Errorf("bare int mismatch (-want +got):\n%s", diff)
	}
	b, _ := s.MarshalJSON()
	if string(b) != "3" {
		t.Errorf("single set marshals as %s, want 3", b)
	}
	b, _ = DocSet{1, 4}.MarshalJSON()
	if string(b) != "[1,4]" {
		t.Errorf("set marshals as %s, want [1,4]", b)
	}
	if !(DocSet{1, 4}).Contains(4) || (DocSet{1, 4}).Contains(2) {
		t.Error("Contains mismatch")
	}
}

func TestStats(t *testing.T) {
	st := smallIndex().Stats()
	want := Stats{Documents: 2, Objects: 1, Prefixes: 1, Terms: 1, TitleTerms: 1}
	if st != want {
		t.Errorf("Stats = %+v, want %+v", st, want)
	}
}
