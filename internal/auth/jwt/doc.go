// Package jwt validates bearer tokens issued by a single trusted issuer.
//
// A Validator accepts a token only when its signature verifies against the
// issuer's current key set, its exp lies in the future (no leeway), and its
// iss equals the configured issuer exactly. Any failure yields a
// *ValidationError carrying one of four kinds and no Principal.
//
// Keys come from a KeyFetcher through a KeyCache. The cache serves reads
// concurrently, refreshes on an interval or on an unknown key id, and keeps
// at most one fetch in flight; a fetch is bounded by its own timeout and is
// not cancelled when the request that triggered it goes away.
package jwt
