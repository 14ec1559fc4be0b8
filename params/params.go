// Package params implements the Socket's params provider: the dynamic
// query-parameter source re-evaluated on every connect() (spec §4.1, §9).
package params

// Provider supplies the query parameters merged into the socket's
// endpoint URL on every connect(). Implementations may be called
// concurrently and read-only; callers must not mutate the returned map.
type Provider interface {
	Params() (map[string]string, error)
}

// Static is a fixed-value Provider.
type Static map[string]string

// Params returns the fixed map unchanged.
func (s Static) Params() (map[string]string, error) { return map[string]string(s), nil }

// Func adapts a plain closure into a Provider, for callers that compute
// params dynamically (e.g. a freshly-minted auth token) without needing a
// dedicated type.
type Func func() (map[string]string, error)

// Params invokes the closure.
func (f Func) Params() (map[string]string, error) { return f() }
