package scorer

import (
	"strings"

	"github.com/sells-group/prospect-engine/internal/textnorm"
)

func normalizeText(s string) string { return textnorm.Normalize(s) }

var countryAliases = map[string]string{
	"us":                       "united states",
	"usa":                      "united states",
	"united states of america": "united states",
	"america":                  "united states",
	"uk":                       "united kingdom",
	"gb":                       "united kingdom",
	"great britain":            "united kingdom",
	"britain":                  "united kingdom",
	"ca":                       "canada",
	"can":                      "canada",
	"de":                       "germany",
	"deutschland":              "germany",
	"fr":                       "france",
	"es":                       "spain",
	"espana":                   "spain",
	"mx":                       "mexico",
	"br":                       "brazil",
	"brasil":                   "brazil",
	"au":                       "australia",
	"nz":                       "new zealand",
	"ie":                       "ireland",
	"nl":                       "netherlands",
	"holland":                  "netherlands",
	"the netherlands":          "netherlands",
	"in":                       "india",
	"jp":                       "japan",
	"sg":                       "singapore",
	"ch":                       "switzerland",
	"se":                       "sweden",
	"uae":                      "united arab emirates",
	"ae":                       "united arab emirates",
}

var regionAliases = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"dc": "district of columbia", "fl": "florida", "ga": "georgia", "hi": "hawaii",
	"id": "idaho", "il": "illinois", "in": "indiana", "ia": "iowa",
	"ks": "kansas", "ky": "kentucky", "la": "louisiana", "me": "maine",
	"md": "maryland", "ma": "massachusetts", "mi": "michigan", "mn": "minnesota",
	"ms": "mississippi", "mo": "missouri", "mt": "montana", "ne": "nebraska",
	"nv": "nevada", "nh": "new hampshire", "nj": "new jersey", "nm": "new mexico",
	"ny": "new york", "nc": "north carolina", "nd": "north dakota", "oh": "ohio",
	"ok": "oklahoma", "or": "oregon", "pa": "pennsylvania", "ri": "rhode island",
	"sc": "south carolina", "sd": "south dakota", "tn": "tennessee", "tx": "texas",
	"ut": "utah", "vt": "vermont", "va": "virginia", "wa": "washington",
	"wv": "west virginia", "wi": "wisconsin", "wy": "wyoming",
	"on": "ontario", "qc": "quebec", "bc": "british columbia",
}

// normalizeCountry maps a country name or code to its canonical name.
func normalizeCountry(s string) string {
	n := normalizeText(s)
	if c, ok := countryAliases[n]; ok {
		return c
	}
	return n
}

// normalizeRegion maps a state or province name or code to its canonical name.
func normalizeRegion(s string) string {
	n := normalizeText(s)
	if r, ok := regionAliases[n]; ok {
		return r
	}
	return n
}

// matchKeywords returns the keywords that appear in any of texts after
// normalization.
func matchKeywords(keywords []string, texts ...string) []string {
	var combined strings.Builder
	for _, t := range texts {
		if t != "" {
			combined.WriteString(" ")
			combined.WriteString(normalizeText(t))
		}
	}
	if combined.Len() == 0 {
		return nil
	}
	hay := combined.String() + " "

	var matched []string
	for _, kw := range keywords {
		k := normalizeText(kw)
		if k != "" && strings.Contains(hay, " "+k+" ") {
			matched = append(matched, kw)
		}
	}
	return matched
}

// containsNormalized reports whether any of set equals v after normalization.
func containsNormalized(set []string, v string) (string, bool) {
	nv := normalizeText(v)
	if nv == "" {
		return "", false
	}
	for _, s := range set {
		if normalizeText(s) == nv {
			return s, true
		}
	}
	return "", false
}
