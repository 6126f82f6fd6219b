package resolve

import (
	"context"
	"fmt"
	"strings"
)

// SeedCompany is one watchlist entry: a canonical company name plus the
// short forms the trade press uses for it.
type SeedCompany struct {
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

// DefaultSeedCompanies covers the large pharmaceutical companies most
// monitoring queries start from.
var DefaultSeedCompanies = []SeedCompany{
	{Name: "Pfizer", Aliases: []string{"Pfizer Inc"}},
	{Name: "Novartis", Aliases: []string{"Novartis AG"}},
	{Name: "Roche", Aliases: []string{"F. Hoffmann-La Roche"}},
	{Name: "Merck", Aliases: []string{"Merck & Co", "MSD"}},
	{Name: "AstraZeneca", Aliases: []string{"Astra Zeneca"}},
	{Name: "Johnson & Johnson", Aliases: []string{"J&J", "Janssen"}},
	{Name: "Sanofi", Aliases: []string{"Sanofi-Aventis"}},
	{Name: "GlaxoSmithKline", Aliases: []string{"GSK", "Glaxo"}},
	{Name: "Bristol Myers Squibb", Aliases: []string{"BMS", "Bristol-Myers Squibb"}},
	{Name: "Eli Lilly", Aliases: []string{"Lilly", "Eli Lilly and Company"}},
	{Name: "AbbVie"},
	{Name: "Amgen"},
	{Name: "Gilead", Aliases: []string{"Gilead Sciences"}},
	{Name: "Moderna"},
	{Name: "Bayer", Aliases: []string{"Bayer AG"}},
}

// Seed ensures a company entity and its alias rows exist for every
// entry. Matching is exact on the normalized name, so seeding never
// merges two distinct companies the way fuzzy resolution could.
func (r *Resolver) Seed(ctx context.Context, companies []SeedCompany) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, company := range companies {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		key := NormalizeName(company.Name)
		if key == "" {
			continue
		}

		id, ok := r.aliases[KindCompany][key]
		if !ok {
			entity, wasCreated, err := r.store.CreateEntity(ctx, KindCompany, strings.TrimSpace(company.Name), key)
			if err != nil {
				return created, fmt.Errorf("seed company %q: %w", company.Name, err)
			}
			alias := Alias{EntityID: entity.ID, Kind: KindCompany, Alias: entity.Name, Normalized: entity.NormalizedName}
			r.entities[entity.ID] = entity
			r.indexAliasLocked(alias)
			r.aliasRows = append(r.aliasRows, alias)
			r.scanStale = true
			if wasCreated {
				created++
			}
			id = entity.ID
		}

		for _, surface := range company.Aliases {
			aliasKey := NormalizeName(surface)
			if aliasKey == "" {
				continue
			}
			if _, exists := r.aliases[KindCompany][aliasKey]; exists {
				continue
			}
			if err := r.store.CreateAlias(ctx, id, KindCompany, strings.TrimSpace(surface), aliasKey); err != nil {
				return created, fmt.Errorf("seed alias %q: %w", surface, err)
			}
			alias := Alias{EntityID: id, Kind: KindCompany, Alias: strings.TrimSpace(surface), Normalized: aliasKey}
			r.indexAliasLocked(alias)
			r.aliasRows = append(r.aliasRows, alias)
			r.scanStale = true
		}
	}
	return created, nil
}
