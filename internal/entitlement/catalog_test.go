package entitlement

import (
	"testing"

	"github.com/dryas/packsync/internal/manifest"
)

func TestLoadCatalogBundled(t *testing.T) {
	t.Parallel()

	c, err := LoadCatalog()
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if c.Len() == 0 {
		t.Fatalf("bundled catalog should not be empty")
	}
	for _, e := range c.Entries() {
		if e.ID == "" || e.Code == "" || e.Type == "" {
			t.Fatalf("bundled entry missing required fields: %+v", e)
		}
		got, ok := c.Get(e.ID)
		if !ok || got.Code != e.Code {
			t.Fatalf("Get(%q) does not round-trip", e.ID)
		}
	}
}

func TestMergeRemoteIsAdditive(t *testing.T) {
	t.Parallel()

	c := &Catalog{byID: make(map[string]int)}
	c.add(Info{ID: "ep-test", Code: "EP01", Type: Expansion, Name: "Original Name"})

	c.MergeRemote([]manifest.CatalogEntry{
		// Known ID: backfills empty fields, never replaces set ones.
		{ID: "ep-test", Code: "RENAMED", SecondaryCode: "SP-EP01", Type: "kit", Name: "Server Name", SteamAppID: 1234},
		// Unknown ID: appended.
		{ID: "gp-new", Code: "GP09", Type: "game", Name: "New Pack"},
		// Incomplete entries are dropped.
		{ID: "broken", Code: ""},
	})

	ep, ok := c.Get("ep-test")
	if !ok {
		t.Fatalf("existing entry disappeared")
	}
	if ep.Code != "EP01" || ep.Name != "Original Name" || ep.Type != Expansion {
		t.Fatalf("set fields must never be replaced, got %+v", ep)
	}
	if ep.SecondaryCode != "SP-EP01" || ep.SteamAppID != 1234 {
		t.Fatalf("empty fields should be backfilled, got %+v", ep)
	}

	if gp, ok := c.Get("gp-new"); !ok || gp.Code != "GP09" {
		t.Fatalf("unknown entry should be appended, got %+v ok=%v", gp, ok)
	}
	if _, ok := c.Get("broken"); ok {
		t.Fatalf("entry without a code must be dropped")
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}
