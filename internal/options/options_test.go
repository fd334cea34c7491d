package options

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSet_Ranking(t *testing.T) {
	tests := []struct {
		name     string
		sets     []Ranked
		want     any
		wantRank Rank
	}{
		{"single", []Ranked{{"a", Config}}, "a", Config},
		{"higher wins", []Ranked{{"a", Config}, {"b", Flag}}, "b", Flag},
		{"lower ignored", []Ranked{{"a", Environment}, {"b", Config}}, "a", Environment},
		{"tie favors later", []Ranked{{"a", Config}, {"b", Config}}, "b", Config},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Container
			for _, v := range tt.sets {
				c.Set("opt", v)
			}
			got, ok := c.Get("opt")
			if !ok || got != tt.want {
				t.Errorf("Get() = %v, %v; want %v", got, ok, tt.want)
			}
			if r := c.GetRank("opt"); r != tt.wantRank {
				t.Errorf("GetRank() = %s, want %s", r, tt.wantRank)
			}
		})
	}
}

func TestContainer_Queries(t *testing.T) {
	c := New()
	c.Set("workers", Ranked{4, Hardcoded})
	c.Set("engine", Ranked{"serial", ConfigDefault})
	c.Set("storage", Ranked{"cache.db", Config})
	c.Set("log-level", Ranked{"debug", Flag})

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
	if c.GetRank("missing") != None || !c.IsDefault("missing") {
		t.Error("unset key should rank None and count as default")
	}
	if !c.IsDefault("workers") || c.IsDefault("storage") {
		t.Error("IsDefault should cover none and hardcoded only")
	}
	if !c.IsFlagged("log-level") || c.IsFlagged("storage") {
		t.Error("IsFlagged mismatch")
	}
	if diff := cmp.Diff([]string{"log-level", "storage"}, c.ExplicitKeys()); diff != "" {
		t.Errorf("ExplicitKeys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"engine", "log-level", "storage", "workers"}, c.Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
	want := map[string]any{"workers": 4, "engine": "serial", "storage": "cache.db", "log-level": "debug"}
	if diff := cmp.Diff(want, c.AsMap()); diff != "" {
		t.Errorf("AsMap mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeAndCopy(t *testing.T) {
	a := New()
	a.Set("engine", Ranked{"serial", Environment})
	a.Set("workers", Ranked{2, Config})

	b := New()
	b.Set("engine", Ranked{"parallel", Config})
	b.Set("workers", Ranked{8, Config})
	b.Set("storage", Ranked{"x.db", Flag})

	m := Merge(a, b)
	want := map[string]any{"engine": "serial", "workers": 8, "storage": "x.db"}
	if diff := cmp.Diff(want, m.AsMap()); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a.Get("storage"); ok {
		t.Error("Merge must not modify its inputs")
	}

	cp := m.Copy()
	cp.Set("engine", Ranked{"other", Flag})
	if v, _ := m.Get("engine"); v != "serial" {
		t.Errorf("Copy shares storage: engine = %v", v)
	}
}

func TestRankString(t *testing.T) {
	if Flag.String() != "flag" || Rank(42).String() != "rank(42)" {
		t.Errorf("Rank strings: %s %s", Flag, Rank(42))
	}
}
