// Package phone canonicalizes user-entered phone numbers to E.164 using the
// libphonenumber metadata.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrorKind classifies why a number could not be normalized.
type ErrorKind int

const (
	Unparseable ErrorKind = iota
	TooShort
	TooLong
	InvalidForRegion
)

func (k ErrorKind) String() string {
	switch k {
	case TooShort:
		return "too_short"
	case TooLong:
		return "too_long"
	case InvalidForRegion:
		return "invalid_for_region"
	default:
		return "unparseable"
	}
}

// NormalizationError is returned for input that is not a valid phone number.
// Kind is for logs and metrics only and must not reach API clients.
type NormalizationError struct {
	Kind   ErrorKind
	Region string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize phone (%s, region %q): %v", e.Kind, e.Region, e.Err)
	}
	return fmt.Sprintf("normalize phone (%s, region %q)", e.Kind, e.Region)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// KindOf returns the kind of a normalization error, or false if err is not one.
func KindOf(err error) (ErrorKind, bool) {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Kind, true
	}
	return 0, false
}

// maxDigits is the longest national significant number libphonenumber
// accepts plus a three digit calling code.
const maxDigits = 20

// Normalizer converts raw input to E.164.
type Normalizer struct {
	defaultRegion string
}

// NewNormalizer returns a Normalizer that falls back to defaultRegion when
// the caller supplies none.
func NewNormalizer(defaultRegion string) *Normalizer {
	return &Normalizer{defaultRegion: strings.ToUpper(defaultRegion)}
}

// DefaultRegion returns the configured fallback region.
func (n *Normalizer) DefaultRegion() string { return n.defaultRegion }

// Normalize parses raw against region and returns the canonical E.164 string.
// A leading '+' makes the country calling code in raw authoritative and
// region is ignored. An empty region means the default region.
func (n *Normalizer) Normalize(raw, region string) (string, error) {
	pn, err := n.Parse(raw, region)
	if err != nil {
		return "", err
	}
	return pn.E164, nil
}

// Parse is Normalize returning the full PhoneNumber.
func (n *Normalizer) Parse(raw, region string) (PhoneNumber, error) {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = n.defaultRegion
	}

	cleaned := Clean(raw)
	international := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")

	fail := func(kind ErrorKind, err error) (PhoneNumber, error) {
		return PhoneNumber{}, &NormalizationError{Kind: kind, Region: region, Err: err}
	}

	switch {
	case digits == "":
		return fail(Unparseable, nil)
	case len(digits) > maxDigits:
		return fail(TooLong, nil)
	case !international && !IsSupportedRegion(region):
		return fail(InvalidForRegion, nil)
	}

	num, err := phonenumbers.Parse(cleaned, region)
	if err != nil {
		switch {
		case errors.Is(err, phonenumbers.ErrTooShortNSN):
			return fail(TooShort, err)
		case errors.Is(err, phonenumbers.ErrInvalidCountryCode):
			return fail(InvalidForRegion, err)
		default:
			return fail(Unparseable, err)
		}
	}

	switch phonenumbers.IsPossibleNumberWithReason(num) {
	case phonenumbers.TOO_SHORT:
		return fail(TooShort, nil)
	case phonenumbers.TOO_LONG:
		return fail(TooLong, nil)
	case phonenumbers.INVALID_COUNTRY_CODE, phonenumbers.INVALID_LENGTH:
		return fail(InvalidForRegion, nil)
	}

	if !phonenumbers.IsValidNumber(num) {
		return fail(InvalidForRegion, nil)
	}

	return PhoneNumber{
		Raw:    raw,
		Region: phonenumbers.GetRegionCodeForNumber(num),
		E164:   phonenumbers.Format(num, phonenumbers.E164),
	}, nil
}

// PhoneNumber is a successfully parsed number. Region is the region the
// number belongs to, which may differ from the region it was parsed with.
type PhoneNumber struct {
	Raw    string
	Region string
	E164   string
}

// Clean drops every character except digits and a single leading '+'.
func Clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsSupportedRegion reports whether region is a libphonenumber region code.
func IsSupportedRegion(region string) bool {
	if region == "" {
		return false
	}
	return phonenumbers.GetSupportedRegions()[strings.ToUpper(region)]
}

// LookupKeys returns the digit strings a canonical number may reduce to in
// legacy contact columns once every non-digit is stripped: the international
// digits, the national significant number and the national dialling form.
func LookupKeys(e164 string) []string {
	keys := []string{strings.TrimPrefix(e164, "+")}

	num, err := phonenumbers.Parse(e164, "")
	if err == nil {
		keys = append(keys,
			phonenumbers.GetNationalSignificantNumber(num),
			Clean(phonenumbers.Format(num, phonenumbers.NATIONAL)),
		)
	}

	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Mask redacts a phone number for logging, keeping the calling-code prefix
// and the last two digits.
func Mask(p string) string {
	if len(p) <= 5 {
		return strings.Repeat("*", len(p))
	}
	return p[:3] + strings.Repeat("*", len(p)-5) + p[len(p)-2:]
}
