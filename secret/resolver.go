package secret

import (
	"context"
	"fmt"
	"strings"
)

// RefPrefix marks a configuration value as a secret reference.
const RefPrefix = "secretref:"

// ParseSecretRef splits "secretref:<provider>:<ref>" into its parts.
// It reports false for plain values and for refs with an empty provider
// or an empty reference; the reference may itself contain colons.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, RefPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

// Resolver turns configuration values into their final secrets. A value
// of the form "secretref:<provider>:<ref>" is resolved through the named
// provider; any other value is returned as-is, optionally after strict
// ${VAR} environment expansion.
//
// Contract:
// - Concurrency: safe for concurrent use once constructed.
// - Errors: resolved values are never logged; errors name only the ref.
type Resolver struct {
	expandEnv bool
	providers map[string]Provider
}

// NewResolver creates a resolver over the given providers. When expandEnv
// is true, plain values go through ExpandEnvStrict before being returned.
func NewResolver(expandEnv bool, providers ...Provider) *Resolver {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Resolver{expandEnv: expandEnv, providers: byName}
}

// ResolveValue resolves one configuration value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	name, ref, ok := ParseSecretRef(value)
	if !ok {
		if strings.HasPrefix(value, RefPrefix) {
			return "", fmt.Errorf("secret: malformed reference %q", value)
		}
		if r.expandEnv {
			return ExpandEnvStrict(value)
		}
		return value, nil
	}

	p, registered := r.providers[name]
	if !registered {
		return "", fmt.Errorf("secret: no provider registered for %q", name)
	}
	resolved, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secret: resolve %s ref %q: %w", name, ref, err)
	}
	return resolved, nil
}

// ResolveMap resolves every value in m, returning a new map. A nil input
// yields a nil output.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for key, value := range m {
		resolved, err := r.ResolveValue(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("secret: key %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

// Close closes every registered provider, returning the first error.
func (r *Resolver) Close() error {
	var first error
	for _, p := range r.providers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
