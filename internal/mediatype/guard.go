package mediatype

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

// NegotiationKind categorizes guard failures.
type NegotiationKind string

const (
	// UnsupportedMediaType means the request Content-Type violates the policy.
	UnsupportedMediaType NegotiationKind = "UNSUPPORTED_MEDIA_TYPE"

	// NotAcceptable means no Accept entry allows an atomic response.
	NotAcceptable NegotiationKind = "NOT_ACCEPTABLE"
)

// NegotiationError reports a rejected Content-Type or Accept header.
type NegotiationError struct {
	Kind    NegotiationKind
	Header  string // "Content-Type" or "Accept"
	Value   string // offending header value, empty when missing
	Message string
}

// Error implements the error interface.
func (e *NegotiationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s: %q)", e.Kind, e.Message, e.Header, e.Value)
}

// Status returns the HTTP status code matching the failure.
func (e *NegotiationError) Status() int {
	if e.Kind == NotAcceptable {
		return http.StatusNotAcceptable
	}
	return http.StatusUnsupportedMediaType
}

// IsUnsupportedMediaType returns true if err is a Content-Type rejection.
// Uses errors.As to handle wrapped errors.
func IsUnsupportedMediaType(err error) bool {
	var ne *NegotiationError
	return errors.As(err, &ne) && ne.Kind == UnsupportedMediaType
}

// IsNotAcceptable returns true if err is an Accept rejection.
// Uses errors.As to handle wrapped errors.
func IsNotAcceptable(err error) bool {
	var ne *NegotiationError
	return errors.As(err, &ne) && ne.Kind == NotAcceptable
}

// Options configures a Guard.
type Options struct {
	// RequireExtension makes the atomic ext parameter mandatory on Content-Type.
	RequireExtension bool

	// Default applies when no channel matches.
	Default Policy

	// Channels are evaluated in order; the first match wins.
	Channels []Channel
}

// Guard validates that a request may use the atomic extension.
type Guard struct {
	requireExt bool
	fallback   Policy
	channels   []compiledChannel
}

// NewGuard compiles the channel scopes. Invalid patterns fail here, at
// startup, rather than per request.
func NewGuard(opts Options) (*Guard, error) {
	g := &Guard{
		requireExt: opts.RequireExtension,
		fallback:   normalizePolicy(opts.Default),
	}
	for _, ch := range opts.Channels {
		cc, err := compileChannel(ch)
		if err != nil {
			return nil, err
		}
		g.channels = append(g.channels, cc)
	}
	return g, nil
}

// Resolve returns the name and policy of the channel applying to r.
// The default policy is reported with an empty name.
func (g *Guard) Resolve(r *http.Request) (string, Policy) {
	for _, ch := range g.channels {
		if ch.matches(r) {
			return ch.name, ch.policy
		}
	}
	return "", g.fallback
}

// Check runs the Content-Type and Accept checks. It has no side effects.
func (g *Guard) Check(r *http.Request) error {
	_, policy := g.Resolve(r)
	if err := g.checkContentType(r.Header.Get("Content-Type"), policy); err != nil {
		return err
	}
	return checkAccept(r.Header.Values("Accept"), policy)
}

func (g *Guard) checkContentType(value string, policy Policy) error {
	if strings.TrimSpace(value) == "" {
		if g.requireExt {
			return &NegotiationError{
				Kind:    UnsupportedMediaType,
				Header:  "Content-Type",
				Message: "Content-Type header is required",
			}
		}
		return nil
	}

	base, params, err := mime.ParseMediaType(value)
	if err != nil {
		return &NegotiationError{
			Kind:    UnsupportedMediaType,
			Header:  "Content-Type",
			Value:   value,
			Message: "malformed Content-Type header",
		}
	}

	if g.requireExt && !declaresAtomic(params) {
		return &NegotiationError{
			Kind:    UnsupportedMediaType,
			Header:  "Content-Type",
			Value:   value,
			Message: fmt.Sprintf("Content-Type must declare ext=%q", ir.AtomicExtension),
		}
	}

	if !policy.AllowsAnyRequest() && !slices.Contains(policy.Request, base) {
		return &NegotiationError{
			Kind:    UnsupportedMediaType,
			Header:  "Content-Type",
			Value:   value,
			Message: fmt.Sprintf("media type %q is not allowed", base),
		}
	}
	return nil
}

// checkAccept passes when no Accept header is present, or when one entry
// is */*, the atomic media type, or a negotiable JSON:API type declaring
// the atomic extension. The atomic media type passes whatever the policy's
// response list holds.
func checkAccept(values []string, policy Policy) error {
	if len(values) == 0 {
		return nil
	}
	joined := strings.Join(values, ",")
	for _, entry := range strings.Split(joined, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		base, params, err := mime.ParseMediaType(entry)
		if err != nil || refused(params) {
			continue
		}
		if base == "*/*" {
			return nil
		}
		if !declaresAtomic(params) {
			continue
		}
		if base == ir.MediaType || slices.Contains(policy.Response, base) {
			return nil
		}
	}
	return &NegotiationError{
		Kind:    NotAcceptable,
		Header:  "Accept",
		Value:   joined,
		Message: fmt.Sprintf("Accept must allow %s", ir.AtomicMediaType),
	}
}

// declaresAtomic reports whether the ext parameter lists the atomic URI.
func declaresAtomic(params map[string]string) bool {
	return slices.Contains(strings.Fields(params["ext"]), ir.AtomicExtension)
}

// refused reports an explicit q=0 weight.
func refused(params map[string]string) bool {
	q, ok := params["q"]
	if !ok {
		return false
	}
	w, err := strconv.ParseFloat(q, 64)
	return err == nil && w == 0
}
