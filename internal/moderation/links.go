package moderation

import (
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// linkPattern finds hostname-shaped candidates with an optional scheme.
// Labels must be adjacent to the dots, so sentence breaks like "hola. estoy"
// never produce a candidate.
var linkPattern = regexp.MustCompile(`(?i)(?:\b([a-z][a-z0-9+.-]*)://)?((?:[\p{L}\p{N}_-]+\.)+[\p{L}\p{N}-]+)(?::\d+)?(?:[/?#]\S*)?`)

// ExtractLinks returns every link-like substring found in text, in order.
// A candidate counts as a link when it carries an explicit scheme, starts
// with "www.", or ends in an ICANN-managed public suffix. Version strings
// and decimals such as "v2.0" or "3.14" are rejected.
func ExtractLinks(text string) []string {
	var out []string
	for _, loc := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		hasScheme := loc[2] >= 0
		host := strings.ToLower(text[loc[4]:loc[5]])
		if hasScheme || isLinkHost(host) {
			out = append(out, text[loc[0]:loc[1]])
		}
	}
	return out
}

// ContainsLink reports whether text contains at least one link.
func ContainsLink(text string) bool {
	for _, loc := range linkPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[2] >= 0 || isLinkHost(strings.ToLower(text[loc[4]:loc[5]])) {
			return true
		}
	}
	return false
}

func isLinkHost(host string) bool {
	host = strings.Trim(host, ".-")
	if host == "" || !strings.Contains(host, ".") {
		return false
	}
	if strings.HasPrefix(host, "www.") {
		return true
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	return icann && suffix != host
}
