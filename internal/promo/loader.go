package promo

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileTable struct {
	Promo []Rule `toml:"promo"`
}

// LoadFile builds a Calculator from a TOML file of [[promo]] tables.
// An empty path yields the default rules.
func LoadFile(path string) (*Calculator, error) {
	if strings.TrimSpace(path) == "" {
		return NewCalculator(DefaultRules())
	}
	var table fileTable
	meta, err := toml.DecodeFile(path, &table)
	if err != nil {
		return nil, fmt.Errorf("promo: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("promo: unknown keys in %s: %v", path, undecoded)
	}
	return NewCalculator(table.Promo)
}

// Parse builds a Calculator from TOML source.
func Parse(data string) (*Calculator, error) {
	var table fileTable
	if _, err := toml.Decode(data, &table); err != nil {
		return nil, fmt.Errorf("promo: decode: %w", err)
	}
	return NewCalculator(table.Promo)
}
