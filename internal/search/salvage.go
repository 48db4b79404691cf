package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// productFragmentPattern matches flat brace-delimited fragments that carry a
// productId key. Nested objects are deliberately excluded; the goal is to
// recover individual entity stubs from truncated or concatenated bodies.
var productFragmentPattern = regexp.MustCompile(`\{[^{}]*"productId"\s*:\s*"[^"]+"[^{}]*\}`)

// searchPayload mirrors the only structural guarantee the search endpoint
// offers: a product-identifier keyed entity mapping at a known path.
type searchPayload struct {
	Entities struct {
		Product json.RawMessage `json:"product"`
	} `json:"entities"`
}

// decodeProductEntities decodes an entities.product object while preserving
// upstream key order, which Go maps would otherwise drop. Values that are
// not objects are skipped without failing the decode.
func decodeProductEntities(raw json.RawMessage) (*ProductSet, error) {
	set := NewProductSet()
	if len(raw) == 0 {
		return set, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode product entities: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode product entities: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode product entity key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode product entity key: unexpected token %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode product entity %q: %w", key, err)
		}
		var attrs map[string]any
		if err := json.Unmarshal(value, &attrs); err != nil || attrs == nil {
			continue
		}
		set.Add(key, attrs)
	}
	return set, nil
}

// SalvageProducts scans raw text for brace-delimited fragments carrying a
// productId, JSON-parses each individually, and accumulates the survivors.
// Returns nil when nothing usable was recovered.
func SalvageProducts(body []byte) *ProductSet {
	set := NewProductSet()
	for _, fragment := range productFragmentPattern.FindAll(body, -1) {
		var attrs map[string]any
		if err := json.Unmarshal(fragment, &attrs); err != nil {
			continue
		}
		id, _ := attrs["productId"].(string)
		if id == "" {
			continue
		}
		set.Add(id, attrs)
	}
	if set.Len() == 0 {
		return nil
	}
	return set
}
