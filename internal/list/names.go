package list

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidMLName  = errors.New("invalid mailing list name")
	ErrInvalidCreator = errors.New("invalid creator")
	ErrInvalidMembers = errors.New("invalid members")
	ErrInvalidSender  = errors.New("invalid sender")
	ErrTooManyMembers = errors.New("too many members")
)

var (
	namePattern          = regexp.MustCompile(`^([0-9a-zA-Z_-][0-9a-zA-Z_.-]*)(@[0-9a-zA-Z_.-]+)?$`)
	returnPattern        = regexp.MustCompile(`^[^=]*=return[=@]`)
	bouncePattern        = regexp.MustCompile(`^(.*)=return=(.*?)@(.*?)$`)
	confirmPrefix        = regexp.MustCompile(`^confirm\+`)
	confirmationPattern  = regexp.MustCompile(`^confirm\+(\d+)\+(.*)`)
	obfuscateTailPattern = regexp.MustCompile(`(@.).*`)
)

// ValidName reports whether name can name a list: a local part, optionally
// followed by "@subdomain". Names are file names in the file store, so a
// leading "." is refused.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// NameOf derives the list name from a list address. Lists under a
// subdomain of domain are named "local@subdomain".
func NameOf(address, domain string) (string, error) {
	if strings.Count(address, "@") > 1 {
		return "", fmt.Errorf("%w: %s", ErrInvalidMLName, address)
	}
	local, host, ok := strings.Cut(address, "@")
	name := local
	if ok {
		suffix := "." + strings.ToLower(domain)
		fqdn := strings.ToLower(host)
		if sub, found := strings.CutSuffix(fqdn, suffix); found {
			name = local + "@" + sub
		}
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidMLName, address)
	}
	return name, nil
}

// AddressForName is the inverse of NameOf.
func AddressForName(name, domain string) string {
	if strings.Contains(name, "@") {
		return name + "." + domain
	}
	return name + "@" + domain
}

// ReturnAddress is the envelope sender of list deliveries. With qmail VERP
// the MTA appends the recipient after "=return=".
func ReturnAddress(shortName, address string, qmailVERP bool) string {
	domain := address
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		domain = address[i+1:]
	}
	if qmailVERP {
		return shortName + "=return=@" + domain + "-@[]"
	}
	return shortName + "=return@" + domain
}

// IsReturnAddress reports whether recipient is a bounce to a list's return
// address, with or without an encoded member.
func IsReturnAddress(recipient string) bool {
	return returnPattern.MatchString(recipient)
}

// ParseReturnAddress decodes a VERP bounce recipient such as
// team=return=bob=example.com@example.org into the list address and the
// member that bounced.
func ParseReturnAddress(recipient string) (listAddress, member string, ok bool) {
	m := bouncePattern.FindStringSubmatch(recipient)
	if m == nil {
		return "", "", false
	}
	return m[1] + "@" + m[3], strings.Replace(m[2], "=", "@", 1), true
}

func IsConfirmationAddress(recipient string) bool {
	return confirmPrefix.MatchString(recipient)
}

// ConfirmationAddress builds confirm+<unix seconds>+<list address>.
func ConfirmationAddress(stamp int64, listAddress string) string {
	return fmt.Sprintf("confirm+%d+%s", stamp, listAddress)
}

// ParseConfirmationAddress splits a confirmation address into its time
// stamp and list address.
func ParseConfirmationAddress(recipient string) (stamp int64, listAddress string, ok bool) {
	m := confirmationPattern.FindStringSubmatch(recipient)
	if m == nil {
		return 0, "", false
	}
	stamp, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return stamp, m[2], true
}

// Obfuscate hides all but the first domain character: bob@example.com
// becomes bob@e...
func Obfuscate(address string) string {
	return obfuscateTailPattern.ReplaceAllString(address, "${1}...")
}

// matchesAny reports whether address matches one of the case-insensitive
// patterns. A pattern that is not a valid expression matches literally.
func matchesAny(address string, patterns []string) bool {
	if address == "" {
		return false
	}
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(pattern))
		}
		if re.MatchString(address) {
			return true
		}
	}
	return false
}
