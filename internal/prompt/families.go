package prompt

import (
	"fmt"
	"strings"
)

// Family is a built-in prompt pattern for a class of remote shells.
type Family string

const (
	// Linux matches login shell prompts such as "user@host:~$" or "root@box:/etc#".
	Linux Family = "linux"
	// Cisco matches network CLI prompts such as "router#", "switch>" or "core(config-if)#".
	Cisco Family = "cisco"
	// Huawei matches VRP prompts such as "<HUAWEI>" or "[~HUAWEI]".
	Huawei Family = "huawei"
)

var familyPatterns = map[Family]string{
	Linux:  `[^@\s]+@[^:\s]+:[^\n$#]*[$#]`,
	Cisco:  `^[\w._-]+(?:\([\w.-]+\))?[#>]`,
	Huawei: `[\[<]~?[\w._-]+[\]>]`,
}

// Families lists the built-in families in a stable order.
func Families() []Family {
	return []Family{Linux, Cisco, Huawei}
}

// Pattern returns the regular expression for the family.
func (f Family) Pattern() string {
	return familyPatterns[f]
}

// ParseFamily parses a family name case-insensitively.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := familyPatterns[f]; !ok {
		return "", fmt.Errorf("unknown prompt family %q", s)
	}
	return f, nil
}

// Any returns a pattern matching a prompt of any built-in family.
func Any() string {
	parts := make([]string, 0, len(familyPatterns))
	for _, f := range Families() {
		parts = append(parts, "(?:"+f.Pattern()+")")
	}
	return strings.Join(parts, "|")
}

// Resolve maps a family name, or "any", to its pattern. Anything else is
// returned unchanged and treated as a regular expression by the caller.
func Resolve(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "any") {
		return Any()
	}
	if f, err := ParseFamily(s); err == nil {
		return f.Pattern()
	}
	return s
}
