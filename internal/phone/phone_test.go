package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Valid(t *testing.T) {
	n := NewNormalizer("US")

	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"dominican e164", "+18095551234", "DO", "+18095551234"},
		{"dominican national", "809-555-1234", "DO", "+18095551234"},
		{"dominican with spaces", " (809) 555 1234 ", "do", "+18095551234"},
		{"us national default region", "(650) 253-0000", "", "+16502530000"},
		{"us with country code digits", "1 650 253 0000", "US", "+16502530000"},
		{"gb national", "020 7031 3000", "GB", "+442070313000"},
		{"plus overrides region", "+44 20 7031 3000", "US", "+442070313000"},
		{"punctuation and letters stripped", "tel:+1.650.253.0000", "", "+16502530000"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := n.Normalize(tc.raw, tc.region)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer("US")
	inputs := []struct{ raw, region string }{
		{"809 555 1234", "DO"},
		{"(650) 253-0000", "US"},
		{"020 7031 3000", "GB"},
		{"+61 2 9374 4000", ""},
	}

	for _, in := range inputs {
		first, err := n.Normalize(in.raw, in.region)
		require.NoError(t, err, in.raw)

		for i := 0; i < 3; i++ {
			again, err := n.Normalize(first, in.region)
			require.NoError(t, err)
			assert.Equal(t, first, again)

			otherRegion, err := n.Normalize(first, "JP")
			require.NoError(t, err)
			assert.Equal(t, first, otherRegion)
		}
	}
}

func TestNormalize_Errors(t *testing.T) {
	n := NewNormalizer("US")

	tests := []struct {
		name   string
		raw    string
		region string
		kind   ErrorKind
	}{
		{"letters only", "abc", "", Unparseable},
		{"empty", "", "", Unparseable},
		{"only plus", "+", "", Unparseable},
		{"too short", "+1650", "", TooShort},
		{"too long", "+1650253000012345", "", TooLong},
		{"absurdly long", "123456789012345678901234567890", "", TooLong},
		{"unknown calling code", "+999 1234567", "", InvalidForRegion},
		{"unknown region", "6502530000", "ZZ", InvalidForRegion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.raw, tc.region)
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok, "expected NormalizationError, got %T", err)
			assert.Equal(t, tc.kind, kind, err.Error())
		})
	}
}

func TestNormalize_NationalNumberInWrongRegionFails(t *testing.T) {
	n := NewNormalizer("US")
	_, err := n.Normalize("020 7031 3000", "US")
	require.Error(t, err)
	_, ok := KindOf(err)
	assert.True(t, ok)
}

func TestParse_ReportsNumberRegion(t *testing.T) {
	n := NewNormalizer("US")
	pn, err := n.Parse("+18095551234", "")
	require.NoError(t, err)
	assert.Equal(t, "DO", pn.Region)
	assert.Equal(t, "+18095551234", pn.E164)
	assert.Equal(t, "+18095551234", pn.Raw)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "+18095551234", Clean(" +1 (809) 555-1234 "))
	assert.Equal(t, "18095551234", Clean("1-809+555-1234"))
	assert.Equal(t, "", Clean("abc"))
	assert.Equal(t, "+", Clean("++"))
}

func TestLookupKeys(t *testing.T) {
	keys := LookupKeys("+442070313000")
	assert.Equal(t, []string{"442070313000", "2070313000", "02070313000"}, keys)

	keys = LookupKeys("+16502530000")
	assert.Equal(t, []string{"16502530000", "6502530000"}, keys)

	for _, k := range LookupKeys("+18095551234") {
		assert.Regexp(t, `^[0-9]+$`, k)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+18*******34", Mask("+18095551234"))
	assert.Equal(t, "***", Mask("123"))
}

func TestIsSupportedRegion(t *testing.T) {
	assert.True(t, IsSupportedRegion("DO"))
	assert.True(t, IsSupportedRegion("gb"))
	assert.False(t, IsSupportedRegion("ZZ"))
	assert.False(t, IsSupportedRegion(""))
}

func TestResolveRegion_Precedence(t *testing.T) {
	tests := []struct {
		name                                  string
		selected, preferred, accept, fallback string
		want                                  string
	}{
		{"explicit selection wins", "DO", "GB", "de-DE", "US", "DO"},
		{"preference next", "", "GB", "de-DE", "US", "GB"},
		{"locale next", "", "", "es-DO,es;q=0.9", "US", "DO"},
		{"fallback last", "", "", "", "US", "US"},
		{"invalid selection skipped", "XX", "", "", "US", "US"},
		{"language without region ignored", "", "", "es", "US", "US"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveRegion(tc.selected, tc.preferred, tc.accept, tc.fallback))
		})
	}
}

func TestRegionFromAcceptLanguage(t *testing.T) {
	assert.Equal(t, "GB", RegionFromAcceptLanguage("en-GB,en;q=0.8"))
	assert.Equal(t, "", RegionFromAcceptLanguage(""))
	assert.Equal(t, "", RegionFromAcceptLanguage("not a header;;;"))
}
