package shipping

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

func TestDefaultTableZones(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		addr domain.Address
		want string
	}{
		{domain.Address{Country: "ES", PostalCode: "28013"}, "peninsula"},
		{domain.Address{Country: "es", PostalCode: "35001"}, "canarias"},
		{domain.Address{Country: "ES", PostalCode: "38 400"}, "canarias"},
		{domain.Address{Country: "ES", PostalCode: "07001"}, "baleares"},
		{domain.Address{Country: "ES", PostalCode: "51001"}, "ceuta_melilla"},
		{domain.Address{Country: "PT", PostalCode: "1000-001"}, "eu"},
		{domain.Address{Country: "US", PostalCode: "10001"}, "international"},
		{domain.Address{}, "peninsula"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Zone(tt.addr), "%+v", tt.addr)
	}
}

func TestOptions(t *testing.T) {
	table, err := Load("")
	require.NoError(t, err)

	opts, err := table.Options(context.Background(), domain.Address{Country: "ES", PostalCode: "28013"})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Correos", opts[0].Carrier)
	assert.Equal(t, "standard", opts[0].Service)
	assert.Equal(t, "peninsula", opts[0].Zone)
	assert.Equal(t, "4.95", opts[0].Cost.String())

	// Callers get a copy.
	opts[0].Cost = opts[0].Cost.Add(opts[0].Cost)
	again, err := table.Options(context.Background(), domain.Address{Country: "ES", PostalCode: "28013"})
	require.NoError(t, err)
	assert.Equal(t, "4.95", again[0].Cost.String())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
zones:
  - name: local
    countries: [FR]
    options:
      - { carrier: Colissimo, service: standard, cost: "5" }
`), 0o600))

	table, err := Load(path)
	require.NoError(t, err)

	opts, err := table.Options(context.Background(), domain.Address{Country: "FR"})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "Colissimo", opts[0].Carrier)

	opts, err = table.Options(context.Background(), domain.Address{Country: "ES"})
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`zones: []`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
zones:
  - name: x
    countries: ["*"]
    options: [{ carrier: A, service: s, cost: "abc" }]
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
zones:
  - name: x
    countries: ["*"]
    options: [{ carrier: A, service: s, cost: "-1" }]
`))
	assert.Error(t, err)
}
