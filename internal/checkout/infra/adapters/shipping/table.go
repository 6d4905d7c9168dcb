// Package shipping resolves delivery options from a static rate table.
package shipping

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

//go:embed rates.yaml
var defaultRates []byte

type fileOption struct {
	Carrier string `yaml:"carrier"`
	Service string `yaml:"service"`
	Cost    string `yaml:"cost"`
}

type fileZone struct {
	Name           string       `yaml:"name"`
	Countries      []string     `yaml:"countries"`
	PostalPrefixes []string     `yaml:"postal_prefixes"`
	Options        []fileOption `yaml:"options"`
}

type file struct {
	DefaultCountry string     `yaml:"default_country"`
	Zones          []fileZone `yaml:"zones"`
}

type zone struct {
	name      string
	countries []string
	prefixes  []string
	options   []domain.ShippingOption
}

// Table is an immutable rate table; safe for concurrent use.
type Table struct {
	defaultCountry string
	zones          []zone
}

var _ ports.ShippingRates = (*Table)(nil)

// Load reads the table at path, or the embedded default table when path
// is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(defaultRates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shipping: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("shipping: decode rate table: %w", err)
	}
	if len(f.Zones) == 0 {
		return nil, errors.New("shipping: rate table has no zones")
	}

	t := &Table{defaultCountry: strings.ToUpper(f.DefaultCountry)}
	for _, fz := range f.Zones {
		z := zone{name: fz.Name, prefixes: fz.PostalPrefixes}
		for _, c := range fz.Countries {
			z.countries = append(z.countries, strings.ToUpper(strings.TrimSpace(c)))
		}
		for _, fo := range fz.Options {
			cost, err := decimal.NewFromString(fo.Cost)
			if err != nil {
				return nil, fmt.Errorf("shipping: zone %s %s/%s cost: %w", fz.Name, fo.Carrier, fo.Service, err)
			}
			if cost.IsNegative() {
				return nil, fmt.Errorf("shipping: zone %s %s/%s: negative cost", fz.Name, fo.Carrier, fo.Service)
			}
			z.options = append(z.options, domain.ShippingOption{
				Carrier: fo.Carrier,
				Service: fo.Service,
				Zone:    fz.Name,
				Cost:    domain.Round2(cost),
			})
		}
		t.zones = append(t.zones, z)
	}
	return t, nil
}

// Options returns the candidates of the first matching zone. An address
// that matches no zone yields no options.
func (t *Table) Options(_ context.Context, addr domain.Address) ([]domain.ShippingOption, error) {
	z, ok := t.match(addr)
	if !ok {
		return nil, nil
	}
	out := make([]domain.ShippingOption, len(z.options))
	copy(out, z.options)
	return out, nil
}

// Zone names the zone an address falls into, or "".
func (t *Table) Zone(addr domain.Address) string {
	z, _ := t.match(addr)
	return z.name
}

func (t *Table) match(addr domain.Address) (zone, bool) {
	country := strings.ToUpper(strings.TrimSpace(addr.Country))
	if country == "" {
		country = t.defaultCountry
	}
	postal := strings.ReplaceAll(addr.PostalCode, " ", "")

	for _, z := range t.zones {
		if !z.hasCountry(country) {
			continue
		}
		if len(z.prefixes) > 0 && !hasAnyPrefix(postal, z.prefixes) {
			continue
		}
		return z, true
	}
	return zone{}, false
}

func (z zone) hasCountry(c string) bool {
	for _, zc := range z.countries {
		if zc == "*" || zc == c {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
