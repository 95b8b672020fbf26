package domain_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const issuer = "02e3f1c6b8e8a1a9d35b0f1e97c9a3c5f2b0d7e6a4c3b2a1908f7e6d5c4b3a2918"

func TestParseAsset(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fixtures := []struct {
			id       string
			expected domain.Asset
		}{
			{"native", domain.Asset{}},
			{"NATIVE", domain.Asset{}},
			{" native ", domain.Asset{}},
			{"USD:" + issuer, domain.Asset{Code: "USD", Issuer: issuer}},
			{"ABCDEFGHIJKL:" + strings.ToUpper(issuer), domain.Asset{Code: "ABCDEFGHIJKL", Issuer: issuer}},
		}
		for _, f := range fixtures {
			asset, err := domain.ParseAsset(f.id)
			require.NoError(t, err, f.id)
			require.Equal(t, f.expected, asset)
		}

		asset, err := domain.ParseAsset("EUR:" + issuer)
		require.NoError(t, err)
		require.False(t, asset.IsNative())
		require.Equal(t, "EUR:"+issuer, asset.String())
		require.Equal(t, domain.NativeAsset, domain.Asset{}.String())
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []string{
			"",
			"USD",
			"USD:",
			":" + issuer,
			"USD:" + issuer + ":extra",
			"ABCDEFGHIJKLM:" + issuer,
			"US-D:" + issuer,
			"USD:" + issuer[:64],
			"USD:zz" + issuer[2:],
		}
		for _, id := range fixtures {
			_, err := domain.ParseAsset(id)
			require.ErrorIs(t, err, domain.ErrInvalidAssetFormat, id)
		}
	})
}

func TestTruncateMemo(t *testing.T) {
	fixtures := []struct {
		memo     string
		expected string
	}{
		{"", ""},
		{"rent", "rent"},
		{"exactly twenty-eight bytes!!", "exactly twenty-eight bytes!!"},
		{"this memo is definitely longer than allowed", "this memo is definitely long"},
		// The 2-byte rune at offset 27 would be split.
		{strings.Repeat("a", 27) + "éé", strings.Repeat("a", 27)},
		{strings.Repeat("€", 10), strings.Repeat("€", 9)},
	}
	for _, f := range fixtures {
		got := domain.TruncateMemo(f.memo)
		require.Equal(t, f.expected, got)
		require.LessOrEqual(t, len(got), domain.MaxMemoLen)
		require.True(t, utf8.ValidString(got))
	}
}
