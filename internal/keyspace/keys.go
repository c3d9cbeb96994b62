// Package keyspace implements the bitmap-key grammar from spec §3/§6:
// prefix allow-listing, charset normalization, and leading-"!" negation
// stripping. BitmapIndex and BitmapCollection both route through here so
// the namespace discipline lives in exactly one place.
package keyspace

import "strings"

// AllowedPrefixes is the allow-list a normalized key's first segment must
// belong to. Validate checks the entries in this order.
var AllowedPrefixes = []string{
	"context/",
	"action/",
	"data/abstraction/",
	"data/mime/",
	"data/content/encoding/",
	"index/",
	"system/",
	"client/os/",
	"client/application/",
	"client/device/",
	"user/",
	"tag/",
	"nested/",
	"custom/",
	"internal/",
	"server/",
}

var allowedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(AllowedPrefixes))
	for _, p := range AllowedPrefixes {
		m[p] = struct{}{}
	}
	return m
}()

// Normalize lowercases the key, converts backslashes to forward slashes,
// strips characters outside [a-z0-9_\-!/], and strips a leading "!"
// (negation is a query-time marker; it is never part of the stored key).
//
// Normalize does NOT validate the prefix — call Validate for that. It is
// safe to call Normalize before Validate, since Validate re-derives the
// bare form itself.
func Normalize(key string) string {
	negated := strings.HasPrefix(key, "!")
	if negated {
		key = key[1:]
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.ToLower(key)

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '!' || r == '/':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsNegated reports whether a raw (pre-normalization) key expression begins
// with "!", the query-time negation marker.
func IsNegated(raw string) bool {
	return strings.HasPrefix(raw, "!")
}

// StripNegation removes a single leading "!" if present.
func StripNegation(raw string) string {
	if IsNegated(raw) {
		return raw[1:]
	}
	return raw
}

// Validate normalizes key and checks it against the allow-list. It returns
// the normalized key and true, or ("", false) if the key is empty or its
// first segment isn't allow-listed. Callers needing the InvalidKey error
// should use this helper and construct synapserr.InvalidKey(key) on false.
func Validate(key string) (string, bool) {
	norm := Normalize(StripNegation(key))
	if norm == "" {
		return "", false
	}
	for _, prefix := range AllowedPrefixes {
		if norm == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(norm, prefix) {
			return norm, true
		}
	}
	return "", false
}

// HasPrefix reports whether normalized key k falls under the given
// collection prefix (e.g. "context"), matching either the bare prefix
// (collection root) or "prefix/...".
func HasPrefix(key, prefix string) bool {
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+"/")
}
