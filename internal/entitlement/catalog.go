package entitlement

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/dryas/packsync/internal/manifest"
)

//go:embed data/catalog.json
var catalogFS embed.FS

// PackType classifies an optional content package.
type PackType string

const (
	Expansion PackType = "expansion"
	GamePack  PackType = "game"
	StuffPack PackType = "stuff"
	Kit       PackType = "kit"
	Free      PackType = "free"
)

// Info is one entitlement-catalog entry. Code is the primary entitlement
// code written to config files; SecondaryCode covers formats that key the
// same pack under an alternate identifier.
type Info struct {
	ID            string   `json:"id"`
	Code          string   `json:"code"`
	SecondaryCode string   `json:"secondary_code,omitempty"`
	Type          PackType `json:"type"`
	Name          string   `json:"name"`
	SteamAppID    int      `json:"steam_app_id,omitempty"`
}

// Catalog is the ordered set of known packs, loaded once from the bundled
// dataset and grown additively from the remote manifest.
type Catalog struct {
	entries []Info
	byID    map[string]int
}

// LoadCatalog parses the bundled catalog dataset.
func LoadCatalog() (*Catalog, error) {
	data, err := catalogFS.ReadFile("data/catalog.json")
	if err != nil {
		return nil, fmt.Errorf("loading bundled catalog: %w", err)
	}

	var entries []Info
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing bundled catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		c.add(e)
	}
	return c, nil
}

// Entries returns the catalog in declaration order.
func (c *Catalog) Entries() []Info {
	out := make([]Info, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get looks up an entry by ID.
func (c *Catalog) Get(id string) (Info, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Info{}, false
	}
	return c.entries[i], true
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// MergeRemote folds server-declared catalog additions in. The merge is
// strictly additive: unknown IDs are appended, known IDs only have empty
// fields backfilled, never replaced.
func (c *Catalog) MergeRemote(additions []manifest.CatalogEntry) {
	for _, a := range additions {
		info := Info{
			ID:            a.ID,
			Code:          a.Code,
			SecondaryCode: a.SecondaryCode,
			Type:          PackType(a.Type),
			Name:          a.Name,
			SteamAppID:    a.SteamAppID,
		}

		i, ok := c.byID[a.ID]
		if !ok {
			c.add(info)
			continue
		}

		existing := &c.entries[i]
		if existing.SecondaryCode == "" {
			existing.SecondaryCode = info.SecondaryCode
		}
		if existing.Name == "" {
			existing.Name = info.Name
		}
		if existing.SteamAppID == 0 {
			existing.SteamAppID = info.SteamAppID
		}
		if existing.Type == "" {
			existing.Type = info.Type
		}
	}
}

func (c *Catalog) add(e Info) {
	if e.ID == "" || e.Code == "" {
		return
	}
	if _, dup := c.byID[e.ID]; dup {
		return
	}
	c.byID[e.ID] = len(c.entries)
	c.entries = append(c.entries, e)
}
