package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for definition digests. The version suffix leaves room to
// change the canonical form later.
const (
	DomainPattern = "meow/pattern/v1"
	DomainRecipe  = "meow/recipe/v1"
)

// Digest returns the content digest of the pattern, including its name. Two
// patterns with equal digests are interchangeable.
func (p *Pattern) Digest() (string, error) {
	payload := p.ToPayload()
	payload["name"] = p.Name
	return digestPayload(DomainPattern, payload)
}

// Digest returns the content digest of the recipe, including its name.
func (r *Recipe) Digest() (string, error) {
	payload := r.ToPayload()
	payload["name"] = r.Name
	return digestPayload(DomainRecipe, payload)
}

// SameDefinition reports whether two patterns carry identical content. A
// digest failure counts as a difference.
func SameDefinition(a, b *Pattern) bool {
	if a == nil || b == nil {
		return a == b
	}
	da, errA := a.Digest()
	db, errB := b.Digest()
	return errA == nil && errB == nil && da == db
}

// SameRecipe is the recipe counterpart of SameDefinition.
func SameRecipe(a, b *Recipe) bool {
	if a == nil || b == nil {
		return a == b
	}
	da, errA := a.Digest()
	db, errB := b.Digest()
	return errA == nil && errB == nil && da == db
}

func digestPayload(domain string, payload map[string]any) (string, error) {
	canonical, err := marshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// marshalCanonical encodes v with NFC-normalized strings, sorted object keys
// and no HTML escaping. Integral floats are folded to integers so a value read
// back from YAML as 1 and one built in code as 1.0 agree.
func marshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonicalValue(v)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func canonicalValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case float64:
		if isIntegral(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	case float32:
		return canonicalValue(float64(val))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = canonicalValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = norm.NFC.String(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[norm.NFC.String(k)] = canonicalValue(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[norm.NFC.String(k)] = norm.NFC.String(e)
		}
		return out
	default:
		return v
	}
}
