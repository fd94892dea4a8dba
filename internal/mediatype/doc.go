// Package mediatype gates access to the atomic operations extension.
//
// A Guard resolves the applicable Policy for a request by matching the
// configured channels in order (path prefix, route name, or a request-scoped
// channel attribute; first match wins, an empty scope matches everything) and
// then checks the Content-Type and Accept headers against it.
//
// The guard is built once from configuration and is read-only afterwards,
// so a single Guard may be shared by concurrent requests.
package mediatype
