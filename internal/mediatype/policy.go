package mediatype

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// AnyMediaType in a request allow-list accepts every base media type.
const AnyMediaType = "*"

// Policy lists the media types a channel accepts and can negotiate.
type Policy struct {
	// Request is the allow-list of base request media types.
	// A list containing AnyMediaType (or an empty list) allows any type.
	Request []string

	// Response lists JSON:API response media types that may carry the
	// atomic ext parameter in an Accept header.
	Response []string
}

// AllowsAnyRequest reports whether the request allow-list is unrestricted.
func (p Policy) AllowsAnyRequest() bool {
	return len(p.Request) == 0 || slices.Contains(p.Request, AnyMediaType)
}

// DefaultPolicy accepts and negotiates only the JSON:API media type.
func DefaultPolicy() Policy {
	return Policy{
		Request:  []string{ir.MediaType},
		Response: []string{ir.MediaType},
	}
}

// Scope selects the requests a channel applies to. Every member is a
// regular expression; empty members are ignored and an all-empty scope
// matches every request.
type Scope struct {
	PathPrefix string
	Route      string
	Attribute  string
}

// Channel pairs a scope with the policy applied to matching requests.
type Channel struct {
	Name   string
	Scope  Scope
	Policy Policy
}

// compiledChannel is a Channel with its scope patterns compiled.
type compiledChannel struct {
	name      string
	path      *regexp.Regexp
	route     *regexp.Regexp
	attribute *regexp.Regexp
	policy    Policy
}

// matches reports whether any configured scope member matches the request.
func (c compiledChannel) matches(r *http.Request) bool {
	if c.path == nil && c.route == nil && c.attribute == nil {
		return true
	}
	if c.path != nil && c.path.MatchString(r.URL.Path) {
		return true
	}
	ctx := r.Context()
	if c.route != nil {
		if route, ok := RouteFromContext(ctx); ok && c.route.MatchString(route) {
			return true
		}
	}
	if c.attribute != nil {
		if attr, ok := AttributeFromContext(ctx); ok && c.attribute.MatchString(attr) {
			return true
		}
	}
	return false
}

func compileChannel(ch Channel) (compiledChannel, error) {
	cc := compiledChannel{name: ch.Name, policy: normalizePolicy(ch.Policy)}
	var err error
	if ch.Scope.PathPrefix != "" {
		if cc.path, err = regexp.Compile("^(?:" + ch.Scope.PathPrefix + ")"); err != nil {
			return cc, fmt.Errorf("channel %q: path prefix: %w", ch.Name, err)
		}
	}
	if ch.Scope.Route != "" {
		if cc.route, err = regexp.Compile("^(?:" + ch.Scope.Route + ")$"); err != nil {
			return cc, fmt.Errorf("channel %q: route: %w", ch.Name, err)
		}
	}
	if ch.Scope.Attribute != "" {
		if cc.attribute, err = regexp.Compile("^(?:" + ch.Scope.Attribute + ")$"); err != nil {
			return cc, fmt.Errorf("channel %q: attribute: %w", ch.Name, err)
		}
	}
	return cc, nil
}

// normalizePolicy lower-cases media types so comparisons are case-insensitive.
func normalizePolicy(p Policy) Policy {
	out := Policy{
		Request:  make([]string, 0, len(p.Request)),
		Response: make([]string, 0, len(p.Response)),
	}
	for _, mt := range p.Request {
		out.Request = append(out.Request, strings.ToLower(strings.TrimSpace(mt)))
	}
	for _, mt := range p.Response {
		out.Response = append(out.Response, strings.ToLower(strings.TrimSpace(mt)))
	}
	if len(out.Response) == 0 {
		out.Response = []string{ir.MediaType}
	}
	return out
}

type contextKey int

const (
	routeKey contextKey = iota
	attributeKey
)

// WithRoute records the matched route name for channel resolution.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey, route)
}

// RouteFromContext returns the route name recorded by WithRoute.
func RouteFromContext(ctx context.Context) (string, bool) {
	route, ok := ctx.Value(routeKey).(string)
	return route, ok
}

// WithAttribute records a request-scoped channel attribute. The server sets
// it from the configured attribute header.
func WithAttribute(ctx context.Context, attr string) context.Context {
	return context.WithValue(ctx, attributeKey, attr)
}

// AttributeFromContext returns the attribute recorded by WithAttribute.
func AttributeFromContext(ctx context.Context) (string, bool) {
	attr, ok := ctx.Value(attributeKey).(string)
	return attr, ok
}
