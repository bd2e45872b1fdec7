package message

import (
	"regexp"
	"strings"
)

var (
	commentPattern      = regexp.MustCompile(`\([^()]*?\)`)
	angleAddressPattern = regexp.MustCompile(`<(.*?)>`)
	bareAddressPattern  = regexp.MustCompile(`"?[-0-9a-zA-Z_.+?/]+"?@[-0-9a-zA-Z]+\.[-0-9a-zA-Z.]+`)
	quotedLocalPattern  = regexp.MustCompile(`^"(.*)"$`)
)

// NormalizeAddress strips quotes around the local part, however deeply
// nested, and lower-cases the domain: "foo"@Example.COM becomes
// foo@example.com. Addresses without a domain are returned unchanged.
func NormalizeAddress(address string) string {
	name, domain, ok := strings.Cut(address, "@")
	if !ok {
		return address
	}
	if i := strings.IndexByte(domain, '@'); i >= 0 {
		domain = domain[:i]
	}
	for quotedLocalPattern.MatchString(name) {
		name = quotedLocalPattern.ReplaceAllString(name, "$1")
	}
	return name + "@" + strings.ToLower(domain)
}

// CollectAddresses extracts the addresses of a header field such as To or
// Cc. Comments are removed, each comma separated part yields at most one
// address, and duplicates are dropped keeping the first occurrence.
func CollectAddresses(field string) []string {
	field = stripComments(field)
	seen := map[string]struct{}{}
	var addresses []string
	for _, part := range strings.Split(field, ",") {
		address, ok := matchAddress(part)
		if !ok {
			continue
		}
		address = NormalizeAddress(address)
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		addresses = append(addresses, address)
	}
	return addresses
}

func stripComments(field string) string {
	for {
		loc := commentPattern.FindStringIndex(field)
		if loc == nil {
			return field
		}
		field = field[:loc[0]] + field[loc[1]:]
	}
}

func matchAddress(part string) (string, bool) {
	if m := angleAddressPattern.FindStringSubmatch(part); m != nil {
		return m[1], true
	}
	loc := bareAddressPattern.FindStringIndex(part)
	if loc == nil {
		return "", false
	}
	match := part[loc[0]:loc[1]]
	local, _, _ := strings.Cut(match, "@")
	open := strings.HasPrefix(local, `"`)
	closing := len(local) > 1 && strings.HasSuffix(local, `"`)
	switch {
	case open == closing:
		return match, true
	case open:
		// unbalanced opening quote: the address starts after it
		return matchAddress(part[loc[0]+1:])
	default:
		return matchAddress(part[loc[1]:])
	}
}

// AddressOfDomain reports whether address belongs to domain or one of its
// subdomains.
func AddressOfDomain(address, domain string) bool {
	if domain == "" {
		return false
	}
	lower := strings.ToLower(address)
	suffix := strings.ToLower(domain)
	if !strings.HasSuffix(lower, suffix) {
		return false
	}
	rest := lower[:len(lower)-len(suffix)]
	return strings.HasSuffix(rest, "@") || strings.HasSuffix(rest, ".")
}
