// Package secret provides a small, dependency-light secret resolution layer
// for client configuration values (backend URLs, API keys, access tokens).
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//
//	secretref:env:SUPABASE_SERVICE_KEY
package secret
