package promo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/promo"
)

const sampleRules = `
[[promo]]
code = "monsoon15"
kind = "percent"
value = 15

[[promo]]
code = "WELCOME"
kind = "flat"
value = 250
`

func TestParse(t *testing.T) {
	calc, err := promo.Parse(sampleRules)
	require.NoError(t, err)

	rule, err := calc.Resolve("MONSOON15")
	require.NoError(t, err)
	require.Equal(t, promo.KindPercent, rule.Kind)
	require.EqualValues(t, 15, rule.Value)

	_, err = calc.Resolve("SAVE10")
	require.ErrorIs(t, err, promo.ErrNotFound)
}

func TestLoadFileEmptyPathUsesDefaults(t *testing.T) {
	calc, err := promo.LoadFile("")
	require.NoError(t, err)
	require.Len(t, calc.Rules(), 2)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	calc, err := promo.LoadFile(path)
	require.NoError(t, err)
	require.Len(t, calc.Rules(), 2)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[promo]]\ncode=\"A\"\nkind=\"flat\"\nvalue=1\nexpires=\"soon\"\n"), 0o600))

	_, err := promo.LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown keys")
}

func TestLoadFileRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[promo]]\ncode=\"A\"\nkind=\"percent\"\nvalue=150\n"), 0o600))

	_, err := promo.LoadFile(path)
	require.ErrorIs(t, err, promo.ErrInvalidRule)
}
