package evaluation

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Context is the attribute dictionary presented at evaluation time.
// Recognized top-level keys include userId, sessionId, userRole, userGroups,
// deviceType, and location (nested); unknown keys are permitted and
// reachable via dotted paths.
type Context map[string]interface{}

// undefined is the sentinel for a missing context attribute, distinct from
// an explicit JSON null.
type undefined struct{}

// Undefined is returned by GetNested when any path segment is missing.
var Undefined = undefined{}

// UserID returns the userId attribute, or "" when absent or not a string.
func (c Context) UserID() string {
	if s, ok := c["userId"].(string); ok {
		return s
	}
	return ""
}

// GetNested walks a dotted path into the context, returning Undefined on
// any missing segment.
func GetNested(ctx Context, path string) interface{} {
	var cur interface{} = map[string]interface{}(ctx)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return Undefined
		}
		cur, ok = m[seg]
		if !ok {
			return Undefined
		}
	}
	return cur
}

// digestKeys is the context subset that participates in the result-cache
// digest. Attributes outside this set must not fragment the cache.
var digestKeys = []string{
	"userId", "sessionId", "userRole", "userGroups", "deviceType", "location", "tenantId",
}

// Sanitize projects the context onto the digest-relevant subset, preserving
// nested structure under location. Idempotent: Sanitize(Sanitize(c)) ==
// Sanitize(c).
func Sanitize(ctx Context) Context {
	out := make(Context, len(digestKeys))
	for _, k := range digestKeys {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Digest computes the MD5 hex digest of the canonical JSON encoding of the
// sanitized context. encoding/json sorts map keys, so the encoding is
// canonical for JSON-shaped values.
func Digest(ctx Context) string {
	data, err := json.Marshal(Sanitize(ctx))
	if err != nil {
		// Non-JSON-encodable attributes never reach the digest subset in
		// practice; fall back to a constant so the result is still cacheable.
		data = []byte("{}")
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
