package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	NativeAsset = "native"

	// MaxMemoLen is the ledger limit on text memos, in bytes.
	MaxMemoLen = 28
)

var (
	assetCodeRegexp   = regexp.MustCompile(`^[A-Za-z0-9]{1,12}$`)
	assetIssuerRegexp = regexp.MustCompile(`^[0-9a-fA-F]{66}$`)
)

// Asset is either the native asset or a CODE:ISSUER credit asset.
type Asset struct {
	Code   string `cbor:"1,keyasint,omitempty" json:"code,omitempty"`
	Issuer string `cbor:"2,keyasint,omitempty" json:"issuer,omitempty"`
}

func (a Asset) IsNative() bool {
	return len(a.Code) <= 0 && len(a.Issuer) <= 0
}

func (a Asset) String() string {
	if a.IsNative() {
		return NativeAsset
	}
	return fmt.Sprintf("%s:%s", a.Code, a.Issuer)
}

// ParseAsset accepts "native" (case insensitive) or "CODE:ISSUER" where CODE
// is 1-12 alphanumerics and ISSUER a compressed public key in hex.
func ParseAsset(id string) (Asset, error) {
	id = strings.TrimSpace(id)
	if strings.EqualFold(id, NativeAsset) {
		return Asset{}, nil
	}

	parts := strings.Split(id, ":")
	if len(parts) != 2 {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAssetFormat, id)
	}
	code, issuer := parts[0], parts[1]
	if !assetCodeRegexp.MatchString(code) {
		return Asset{}, fmt.Errorf("%w: invalid code %q", ErrInvalidAssetFormat, code)
	}
	if !assetIssuerRegexp.MatchString(issuer) {
		return Asset{}, fmt.Errorf("%w: invalid issuer %q", ErrInvalidAssetFormat, issuer)
	}
	return Asset{Code: code, Issuer: strings.ToLower(issuer)}, nil
}

// TruncateMemo cuts the memo to MaxMemoLen bytes without splitting a rune.
func TruncateMemo(memo string) string {
	if len(memo) <= MaxMemoLen {
		return memo
	}
	cut := MaxMemoLen
	for cut > 0 && !utf8.RuneStart(memo[cut]) {
		cut--
	}
	return memo[:cut]
}
