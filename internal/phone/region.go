package phone

import (
	"strings"

	"golang.org/x/text/language"
)

// ResolveRegion picks the region used to interpret a number typed without a
// country code. Candidates are tried in order: the region selected in the
// UI, the stored preference, the region of the caller's locale, fallback.
// Unknown region codes are skipped.
func ResolveRegion(selected, preferred, acceptLanguage, fallback string) string {
	for _, r := range []string{selected, preferred, RegionFromAcceptLanguage(acceptLanguage)} {
		r = strings.ToUpper(strings.TrimSpace(r))
		if IsSupportedRegion(r) {
			return r
		}
	}
	return strings.ToUpper(fallback)
}

// RegionFromAcceptLanguage returns the first region stated explicitly, or
// with high confidence, by an Accept-Language header. "es-DO" yields "DO";
// a bare "es" yields nothing.
func RegionFromAcceptLanguage(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		region, conf := tag.Region()
		if conf < language.High {
			continue
		}
		if code := region.String(); IsSupportedRegion(code) {
			return code
		}
	}
	return ""
}
