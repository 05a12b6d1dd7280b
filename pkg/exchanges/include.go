package exchanges

import (
	"fmt"
	"strings"
)

// Include is a field of an HTTP exchange that may be copied into a record.
type Include int

const (
	IncludeRequestHeaders Include = iota
	IncludeResponseHeaders
	IncludeCookieHeaders
	IncludeAuthorizationHeader
	IncludePrincipal
	IncludeRemoteAddress
	IncludeSessionID
	IncludeTimeTaken

	includeCount
)

var includeNames = [includeCount]string{
	IncludeRequestHeaders:      "REQUEST_HEADERS",
	IncludeResponseHeaders:     "RESPONSE_HEADERS",
	IncludeCookieHeaders:       "COOKIE_HEADERS",
	IncludeAuthorizationHeader: "AUTHORIZATION_HEADER",
	IncludePrincipal:           "PRINCIPAL",
	IncludeRemoteAddress:       "REMOTE_ADDRESS",
	IncludeSessionID:           "SESSION_ID",
	IncludeTimeTaken:           "TIME_TAKEN",
}

func (i Include) String() string {
	if i < 0 || i >= includeCount {
		return fmt.Sprintf("Include(%d)", int(i))
	}
	return includeNames[i]
}

// ParseInclude accepts "REQUEST_HEADERS", "request_headers" or "request-headers".
func ParseInclude(s string) (Include, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, n := range includeNames {
		if n == name {
			return Include(i), nil
		}
	}
	return 0, fmt.Errorf("unknown exchange include %q", s)
}

// Policy is an immutable set of Include options. The zero Policy includes nothing.
type Policy struct {
	set map[Include]struct{}
}

// NewPolicy returns a policy containing the given options. Duplicates collapse.
func NewPolicy(includes ...Include) Policy {
	set := make(map[Include]struct{}, len(includes))
	for _, i := range includes {
		if i >= 0 && i < includeCount {
			set[i] = struct{}{}
		}
	}
	return Policy{set: set}
}

// AllIncludes returns a policy with every option enabled.
func AllIncludes() Policy {
	all := make([]Include, 0, includeCount)
	for i := Include(0); i < includeCount; i++ {
		all = append(all, i)
	}
	return NewPolicy(all...)
}

// DefaultIncludes returns the policy used when none is configured: everything
// except the Authorization and cookie headers.
func DefaultIncludes() Policy {
	return NewPolicy(
		IncludeRequestHeaders,
		IncludeResponseHeaders,
		IncludePrincipal,
		IncludeRemoteAddress,
		IncludeSessionID,
		IncludeTimeTaken,
	)
}

// ParsePolicy builds a policy from option names. An empty list yields DefaultIncludes.
func ParsePolicy(names []string) (Policy, error) {
	if len(names) == 0 {
		return DefaultIncludes(), nil
	}
	includes := make([]Include, 0, len(names))
	for _, n := range names {
		i, err := ParseInclude(n)
		if err != nil {
			return Policy{}, err
		}
		includes = append(includes, i)
	}
	return NewPolicy(includes...), nil
}

// Includes reports whether the option is part of the policy.
func (p Policy) Includes(i Include) bool {
	_, ok := p.set[i]
	return ok
}

// List returns the enabled options in declaration order.
func (p Policy) List() []Include {
	out := make([]Include, 0, len(p.set))
	for i := Include(0); i < includeCount; i++ {
		if p.Includes(i) {
			out = append(out, i)
		}
	}
	return out
}

func (p Policy) String() string {
	list := p.List()
	names := make([]string, len(list))
	for idx, i := range list {
		names[idx] = i.String()
	}
	return "[" + strings.Join(names, ",") + "]"
}
