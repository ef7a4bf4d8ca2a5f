// Package catalog resolves free-text storefront product names to catalog
// peptides and expands bundle products into their components.
package catalog

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

var dosageSuffix = regexp.MustCompile(`(?i)\s+\d+(?:[.,]\d+)?(?:mg|mcg|iu|ml|vial|kit)(?:/\d+(?:mg|mcg))?s?$`)

// StripDosageSuffix removes a trailing dosage such as " 10mg" or " 5mg/2ml"
// and lower-cases the result.
func StripDosageSuffix(name string) string {
	return strings.ToLower(strings.TrimSpace(dosageSuffix.ReplaceAllString(name, "")))
}

// ApplyAliases rewrites the first alias whose From is a prefix of name.
func ApplyAliases(aliases []Alias, name string) string {
	for _, alias := range aliases {
		if strings.HasPrefix(name, alias.From) {
			return alias.To + strings.TrimPrefix(name, alias.From)
		}
	}
	return name
}

// ResolvedLine is a line item bound to a catalog peptide.
type ResolvedLine struct {
	PeptideID uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal is unit price times quantity.
func (l ResolvedLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SourceLine is one storefront line item as received.
type SourceLine struct {
	Name     string
	Quantity int
	Total    decimal.Decimal
	// Price is the storefront unit price; zero means unknown.
	Price decimal.Decimal
}

type entry struct {
	id       uuid.UUID
	lower    string
	stripped string
}

// Matcher matches names against one organization's catalog snapshot.
type Matcher struct {
	rules   Rules
	entries []entry
}

func NewMatcher(rules Rules, peptides []models.Peptide) *Matcher {
	entries := make([]entry, 0, len(peptides))
	for _, p := range peptides {
		entries = append(entries, entry{
			id:       p.ID,
			lower:    strings.ToLower(p.Name),
			stripped: StripDosageSuffix(p.Name),
		})
	}
	return &Matcher{rules: rules, entries: entries}
}

// Match returns the peptide for name. The first rule that hits wins: exact
// name after aliasing, name without dosage suffix, then substring either way.
func (m *Matcher) Match(name string) (uuid.UUID, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, false
	}
	aliased := ApplyAliases(m.rules.Aliases, name)

	full := strings.ToLower(aliased)
	for _, e := range m.entries {
		if e.lower == full {
			return e.id, true
		}
	}

	base := StripDosageSuffix(aliased)
	if base == "" {
		return uuid.Nil, false
	}
	for _, e := range m.entries {
		if e.stripped == base {
			return e.id, true
		}
	}

	for _, e := range m.entries {
		if e.lower == "" {
			continue
		}
		if strings.Contains(e.lower, base) || strings.Contains(base, e.lower) {
			return e.id, true
		}
	}
	return uuid.Nil, false
}

// IsBundle reports whether name is a configured bundle product.
func (m *Matcher) IsBundle(name string) bool {
	_, ok := m.rules.Bundles[name]
	return ok
}

// ExpandBundle splits a bundle line into one line per resolvable component,
// each priced (total / components) / quantity. It returns nil when name is not
// a bundle or no component resolves.
func (m *Matcher) ExpandBundle(line SourceLine) []ResolvedLine {
	components, ok := m.rules.Bundles[line.Name]
	if !ok || len(components) == 0 || line.Quantity <= 0 {
		return nil
	}

	share := line.Total.Div(decimal.NewFromInt(int64(len(components))))
	unitPrice := share.Div(decimal.NewFromInt(int64(line.Quantity)))

	var lines []ResolvedLine
	for _, component := range components {
		id, ok := m.Match(component)
		if !ok {
			continue
		}
		lines = append(lines, ResolvedLine{PeptideID: id, Quantity: line.Quantity, UnitPrice: unitPrice})
	}
	return lines
}

// Resolve expands bundles or matches a single line. A nil result means the
// line is unmatched and should be surfaced for manual review.
func (m *Matcher) Resolve(line SourceLine) []ResolvedLine {
	if expanded := m.ExpandBundle(line); len(expanded) > 0 {
		return expanded
	}

	id, ok := m.Match(line.Name)
	if !ok {
		return nil
	}
	return []ResolvedLine{{PeptideID: id, Quantity: line.Quantity, UnitPrice: unitPrice(line)}}
}

func unitPrice(line SourceLine) decimal.Decimal {
	if !line.Price.IsZero() {
		return line.Price
	}
	if line.Quantity <= 0 {
		return line.Total
	}
	return line.Total.Div(decimal.NewFromInt(int64(line.Quantity)))
}
