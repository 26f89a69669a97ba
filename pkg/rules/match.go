package rules

import "strings"

// domainMatches reports whether qname is covered by a rule written against
// ruleDomain: either an exact match, or qname is a strict subdomain of
// ruleDomain. The first label of qname is never treated as a standalone
// parent suffix - "notevil.com" never matches a rule for "evil.com" because
// the comparison always anchors on a full label boundary (a literal "."
// immediately before the shared suffix).
func domainMatches(qname, ruleDomain string) bool {
	if ruleDomain == "" {
		return false
	}
	if qname == ruleDomain {
		return true
	}
	return strings.HasSuffix(qname, "."+ruleDomain)
}

// anyDomainMatches reports whether qname matches any rule domain in the set.
func anyDomainMatches(qname string, domains []string) (string, bool) {
	for _, d := range domains {
		if domainMatches(qname, d) {
			return d, true
		}
	}
	return "", false
}

// adultKeywords is the fixed substring heuristic Classify applies after the
// category scan. A label matches when it contains any keyword as a raw
// substring (e.g. "adultswim" matches "adult").
var adultKeywords = []string{"porn", "xxx", "adult", "xvideos", "xnxx", "redtube", "pornhub"}

// looksAdult applies the adult/porn heuristic to a query name's labels.
func looksAdult(qname string) bool {
	labels := strings.Split(strings.TrimSuffix(qname, "."), ".")
	for _, label := range labels {
		for _, kw := range adultKeywords {
			if strings.Contains(label, kw) {
				return true
			}
		}
	}
	return false
}
