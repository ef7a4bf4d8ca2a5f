package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/peptidecrm-backend/pkg/db/dbtest"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db/models"
)

func peptides(names ...string) []models.Peptide {
	out := make([]models.Peptide, 0, len(names))
	for _, name := range names {
		out = append(out, models.Peptide{ID: uuid.New(), Name: name})
	}
	return out
}

func TestStripDosageSuffix(t *testing.T) {
	cases := map[string]string{
		"BPC-157 10mg":         "bpc-157",
		"Semaglutide 5MG":      "semaglutide",
		"HGH 10iu":             "hgh",
		"Bac Water 30ml":       "bac water",
		"Tirzepatide 2.5mg":    "tirzepatide",
		"Tirzepatide 2,5mg":    "tirzepatide",
		"CJC-1295 5mg/2mg":     "cjc-1295",
		"Test Kit 1kit":        "test kit",
		"BPC-157":              "bpc-157",
		"MOTS-C 40mg + extras": "mots-c 40mg + extras",
	}
	for input, want := range cases {
		assert.Equal(t, want, StripDosageSuffix(input), input)
	}
}

func TestApplyAliases(t *testing.T) {
	rules := DefaultRules()
	assert.Equal(t, "Tirzepatide 5mg", ApplyAliases(rules.Aliases, "GLP2-T 5mg"))
	assert.Equal(t, "Retatrutide", ApplyAliases(rules.Aliases, "GLP3-R"))
	assert.Equal(t, "Tesamorelin/Ipamorelin Blnd 10mg", ApplyAliases(rules.Aliases, "Tesamorelin/Ipamorelin Blend 10mg"))
	assert.Equal(t, "My GLP2-T", ApplyAliases(rules.Aliases, "My GLP2-T"), "only prefixes are rewritten")
}

func TestMatcherFallbackOrder(t *testing.T) {
	t.Run("alias and suffix stripping reach the catalog name", func(t *testing.T) {
		catalog := peptides("Tesamorelin 10mg", "Tirzepatide")
		m := NewMatcher(DefaultRules(), catalog)

		id, ok := m.Match("GLP2-T 5mg")
		require.True(t, ok)
		assert.Equal(t, catalog[1].ID, id)
	})

	t.Run("substring fallback", func(t *testing.T) {
		catalog := peptides("Tesamorelin 10mg", "Tirzepatide Pen")
		m := NewMatcher(DefaultRules(), catalog)

		id, ok := m.Match("GLP2-T 5mg")
		require.True(t, ok)
		assert.Equal(t, catalog[1].ID, id)
	})

	t.Run("no match", func(t *testing.T) {
		m := NewMatcher(DefaultRules(), peptides("Tesamorelin 10mg"))
		_, ok := m.Match("GLP2-T 5mg")
		assert.False(t, ok)
	})

	t.Run("exact full name beats stripped match", func(t *testing.T) {
		catalog := peptides("BPC-157 5mg", "BPC-157 10mg")
		m := NewMatcher(DefaultRules(), catalog)

		id, ok := m.Match("bpc-157 10MG")
		require.True(t, ok)
		assert.Equal(t, catalog[1].ID, id)
	})

	t.Run("stripped match takes the first catalog entry", func(t *testing.T) {
		catalog := peptides("BPC-157 5mg", "BPC-157 10mg")
		m := NewMatcher(DefaultRules(), catalog)

		id, ok := m.Match("BPC-157 20mg")
		require.True(t, ok)
		assert.Equal(t, catalog[0].ID, id)
	})

	t.Run("blank names never match", func(t *testing.T) {
		m := NewMatcher(DefaultRules(), peptides("BPC-157 10mg"))
		_, ok := m.Match("   ")
		assert.False(t, ok)
	})
}

func TestExpandBundle(t *testing.T) {
	catalog := peptides("BPC-157 10mg", "TB500 10mg", "MOTS-C 40mg")
	m := NewMatcher(DefaultRules(), catalog)

	lines := m.ExpandBundle(SourceLine{
		Name:     "BPC-157 + TB-500 Bundle",
		Quantity: 2,
		Total:    decimal.RequireFromString("120.00"),
	})
	require.Len(t, lines, 2)
	assert.Equal(t, catalog[0].ID, lines[0].PeptideID)
	assert.Equal(t, catalog[1].ID, lines[1].PeptideID)
	for _, line := range lines {
		assert.Equal(t, 2, line.Quantity)
		assert.True(t, decimal.RequireFromString("30").Equal(line.UnitPrice), line.UnitPrice.String())
	}

	partial := m.ExpandBundle(SourceLine{Name: "MOTS-C 40mg + SS-31 50mg Bundle", Quantity: 1, Total: decimal.NewFromInt(100)})
	require.Len(t, partial, 1)
	assert.Equal(t, catalog[2].ID, partial[0].PeptideID)
	assert.True(t, decimal.NewFromInt(50).Equal(partial[0].UnitPrice))

	assert.Nil(t, m.ExpandBundle(SourceLine{Name: "Tesamorelin 10mg + Ipamorelin 10mg Bundle", Quantity: 1, Total: decimal.NewFromInt(90)}))
	assert.Nil(t, m.ExpandBundle(SourceLine{Name: "BPC-157 10mg", Quantity: 1, Total: decimal.NewFromInt(90)}))
	assert.True(t, m.IsBundle("BPC-157 + TB-500 Bundle"))
}

func TestResolve(t *testing.T) {
	catalog := peptides("BPC-157 10mg", "TB500 10mg")
	m := NewMatcher(DefaultRules(), catalog)

	lines := m.Resolve(SourceLine{Name: "BPC-157 10mg", Quantity: 2, Total: decimal.NewFromInt(50)})
	require.Len(t, lines, 1)
	assert.True(t, decimal.NewFromInt(25).Equal(lines[0].UnitPrice))

	lines = m.Resolve(SourceLine{Name: "BPC-157 10mg", Quantity: 2, Total: decimal.NewFromInt(50), Price: decimal.RequireFromString("24.99")})
	require.Len(t, lines, 1)
	assert.Equal(t, "24.99", lines[0].UnitPrice.String())

	assert.Len(t, m.Resolve(SourceLine{Name: "BPC-157 + TB-500 Bundle", Quantity: 1, Total: decimal.NewFromInt(80)}), 2)
	assert.Nil(t, m.Resolve(SourceLine{Name: "Gift Card", Quantity: 1, Total: decimal.NewFromInt(25)}))
}

// Property: an expanded bundle conserves the line total and prices each
// component at T / (N * Q).
func TestBundleConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	m := NewMatcher(DefaultRules(), peptides("BPC-157 10mg", "TB500 10mg"))
	epsilon := decimal.RequireFromString("0.000001")

	properties.Property("bundle lines sum to the source total", prop.ForAll(
		func(totalCents int64, quantity int) bool {
			total := decimal.New(totalCents, -2)
			lines := m.ExpandBundle(SourceLine{Name: "BPC-157 + TB-500 Bundle", Quantity: quantity, Total: total})
			if len(lines) != 2 {
				return false
			}

			expectedUnit := total.Div(decimal.NewFromInt(int64(2 * quantity)))
			sum := decimal.Zero
			for _, line := range lines {
				if line.UnitPrice.Sub(expectedUnit).Abs().GreaterThan(epsilon) {
					return false
				}
				sum = sum.Add(line.LineTotal())
			}
			return sum.Sub(total).Abs().LessThanOrEqual(epsilon)
		},
		gen.Int64Range(1, 10_000_000),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

func TestLoaderUsesStoredCatalog(t *testing.T) {
	conn := dbtest.New(t)
	orgID := uuid.New()
	other := uuid.New()
	dbtest.Seed(t, conn,
		&models.Peptide{OrgID: orgID, Name: "Tirzepatide 10mg", Active: true},
		&models.Peptide{OrgID: other, Name: "Retatrutide 10mg", Active: true},
	)

	loader := NewLoader(NewRepository(conn), DefaultRules())
	m, err := loader.MatcherFor(context.Background(), orgID)
	require.NoError(t, err)

	_, ok := m.Match("GLP2-T 10mg")
	assert.True(t, ok)
	_, ok = m.Match("GLP3-R 10mg")
	assert.False(t, ok, "other organizations' catalog must not leak")
}
