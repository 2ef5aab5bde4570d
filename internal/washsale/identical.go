// Package washsale implements the IRS Section 1091 wash-sale rule: a loss
// is disallowed to the extent substantially identical securities are
// repurchased within 30 calendar days before or after the sale, in any
// account, including tax-advantaged ones.
//
// Detection is a pure function of the loss dispositions and a read-only
// transaction window; no hidden clock, no randomness.
package washsale

import "strings"

// substantiallyIdentical maps a ticker to the funds the IRS treats as
// substantially identical to it (same index, different issuer). Lookup is
// made symmetric and transitive at query time.
var substantiallyIdentical = map[string][]string{
	// S&P 500 funds
	"VOO": {"IVV", "SPY", "SPLG", "FXAIX", "SWPPX"},
	"IVV": {"VOO", "SPY", "SPLG", "FXAIX", "SWPPX"},
	"SPY": {"VOO", "IVV", "SPLG", "FXAIX", "SWPPX"},

	// Total US market funds
	"VTI":  {"ITOT", "SWTSX", "FSKAX", "SCHB"},
	"ITOT": {"VTI", "SWTSX", "FSKAX", "SCHB"},

	// Total international funds
	"VXUS": {"IXUS", "FZILX", "SWISX"},
	"IXUS": {"VXUS", "FZILX", "SWISX"},

	// Emerging markets
	"VWO":  {"IEMG", "EEM", "SCHE"},
	"IEMG": {"VWO", "EEM", "SCHE"},

	// Developed international
	"VEA":  {"IEFA", "EFA", "SCHF"},
	"IEFA": {"VEA", "EFA", "SCHF"},

	// Bond funds
	"BND": {"AGG", "SCHZ", "FBND"},
	"AGG": {"BND", "SCHZ", "FBND"},
}

// IdenticalSecurities returns the set of tickers substantially identical to
// symbol, always including symbol itself. Both directions of the mapping
// are honored, so a ticker that only appears as a value still resolves its
// group.
func IdenticalSecurities(symbol string) map[string]bool {
	upper := strings.ToUpper(symbol)
	identical := map[string]bool{upper: true}

	for _, t := range substantiallyIdentical[upper] {
		identical[t] = true
	}

	// Reverse lookup: groups that list this ticker as a member.
	for key, values := range substantiallyIdentical {
		for _, v := range values {
			if v == upper {
				identical[key] = true
				for _, other := range values {
					identical[other] = true
				}
				break
			}
		}
	}

	return identical
}

// AreSubstantiallyIdentical reports whether purchases of b can wash a loss
// on sales of a.
func AreSubstantiallyIdentical(a, b string) bool {
	return IdenticalSecurities(a)[strings.ToUpper(b)]
}
