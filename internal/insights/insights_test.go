package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishimitra/pdr-api/internal/labels"
)

func TestLoadParsesEmbeddedTable(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)
	assert.Greater(t, table.Len(), 0)
}

func TestTableKeysMatchClassTable(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)

	known := map[string]struct{}{}
	for _, n := range labels.Names {
		known[n] = struct{}{}
	}
	for class := range table.entries {
		_, ok := known[class]
		assert.True(t, ok, "insight key %q is not a model class", class)
	}
}

func TestLookupDisease(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)

	in, ok := table.Lookup("Tomato___Late_blight")
	require.True(t, ok)
	assert.Equal(t, "high", in.Severity)
	assert.NotEmpty(t, in.ChemicalTreatment)
	assert.NotEmpty(t, in.OrganicTreatment)
	assert.NotEmpty(t, in.Prevention)
}

func TestLookupHealthyFallback(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)

	in, ok := table.Lookup("Raspberry___healthy")
	require.True(t, ok)
	assert.Equal(t, "none", in.Severity)
	assert.Equal(t, "No treatment necessary.", in.ChemicalTreatment)
}

func TestLookupUnknownDisease(t *testing.T) {
	table, err := Load()
	require.NoError(t, err)

	_, ok := table.Lookup("Orange___Haunglongbing_(Citrus_greening)")
	assert.False(t, ok, "no entry shipped for citrus greening")
}
