package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
)

// Alias rewrites a storefront name prefix to the catalog spelling.
type Alias struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Rules are the tenant naming rules applied before catalog matching. Aliases
// are tried in order; bundles are keyed by the exact storefront product name.
// Organizations holds per-tenant additions keyed by organization id.
type Rules struct {
	Aliases       []Alias             `yaml:"aliases"`
	Bundles       map[string][]string `yaml:"bundles"`
	Organizations map[string]Rules    `yaml:"organizations,omitempty"`
}

// For returns the rules that apply to orgID: its own aliases ahead of the
// shared ones, and its bundles over shared bundles of the same name.
func (r Rules) For(orgID uuid.UUID) Rules {
	shared := Rules{Aliases: r.Aliases, Bundles: r.Bundles}
	own, ok := r.Organizations[orgID.String()]
	if !ok {
		return shared
	}
	merged := Rules{
		Aliases: append(append([]Alias(nil), own.Aliases...), r.Aliases...),
		Bundles: make(map[string][]string, len(r.Bundles)+len(own.Bundles)),
	}
	for name, components := range r.Bundles {
		merged.Bundles[name] = components
	}
	for name, components := range own.Bundles {
		merged.Bundles[name] = components
	}
	return merged
}

// DefaultRules returns the built-in alias and bundle tables.
func DefaultRules() Rules {
	return Rules{
		Aliases: []Alias{
			{From: "GLP2-T", To: "Tirzepatide"},
			{From: "GLP3-R", To: "Retatrutide"},
			{From: "Tesamorelin/Ipamorelin Blend", To: "Tesamorelin/Ipamorelin Blnd"},
		},
		Bundles: map[string][]string{
			"BPC-157 + TB-500 Bundle":                   {"BPC-157 10mg", "TB500 10mg"},
			"MOTS-C 40mg + SS-31 50mg Bundle":           {"MOTS-C 40mg", "SS-31 50mg"},
			"Tesamorelin 10mg + Ipamorelin 10mg Bundle": {"Tesamorelin 10mg", "Ipamorelin 10mg"},
		},
	}
}

// LoadRules reads a YAML rules file. An empty path yields DefaultRules.
func LoadRules(path string) (Rules, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRules(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read catalog rules %s: %w", path, err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a YAML rules document.
func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid catalog rules yaml")
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	if rules.Bundles == nil {
		rules.Bundles = map[string][]string{}
	}
	return rules, nil
}

func (r Rules) Validate() error {
	for key, own := range r.Organizations {
		id, err := uuid.Parse(key)
		if err != nil || id == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("organization key %q is not an id", key))
		}
		if len(own.Organizations) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("organization %s cannot nest organizations", key))
		}
		if err := own.Validate(); err != nil {
			return err
		}
	}
	for i, alias := range r.Aliases {
		if strings.TrimSpace(alias.From) == "" || strings.TrimSpace(alias.To) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("alias %d requires from and to", i))
		}
	}
	for name, components := range r.Bundles {
		if strings.TrimSpace(name) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "bundle name is required")
		}
		if len(components) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("bundle %q has no components", name))
		}
	}
	return nil
}
