package search

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	defaultCurrency = "CAD"
	maxOffers       = 5
)

// ExtractProduct normalizes one raw product entity into a canonical record.
// Every nested lookup degrades to nil on absent or mistyped data; extraction
// never fails outright.
func ExtractProduct(attrs map[string]any, term string) ProductRecord {
	rec := ProductRecord{
		Found:      true,
		SearchTerm: term,
		Currency:   defaultCurrency,
	}

	rec.ProductID = stringField(attrs, "productId")
	rec.RetailerProductID = stringField(attrs, "retailerProductId")
	rec.Name = stringField(attrs, "name")
	rec.Brand = stringField(attrs, "brand")
	rec.Available = boolField(attrs, "available")
	rec.Category = stringField(attrs, "categoryPath")

	if img := mapField(attrs, "image"); img != nil {
		rec.ImageURL = stringField(img, "baseUrl")
	} else {
		rec.ImageURL = stringField(attrs, "imageUrl")
	}

	price := mapField(attrs, "price")
	rec.CurrentPrice = numberField(mapField(price, "current"), "amount")
	rec.OriginalPrice = numberField(mapField(price, "original"), "amount")

	unit := mapField(price, "unit")
	rec.UnitPrice = numberField(mapField(unit, "current"), "amount")
	rec.UnitLabel = stringField(unit, "label")

	rec.DiscountPercentage = discountPercent(rec.CurrentPrice, rec.OriginalPrice)

	if c := stringField(attrs, "currency"); c != nil && *c != "" {
		rec.Currency = *c
	}

	rec.Offers = offersField(attrs)
	return rec
}

// NotFoundRecord builds the canonical zero-match record for a term. An empty
// message selects the standard not-found template.
func NotFoundRecord(term, message string) ProductRecord {
	if message == "" {
		message = fmt.Sprintf(
			"The article \"%s\" was not found. It may not be published yet or could be a typo.",
			term,
		)
	}
	name := "Article Not Found: " + term
	unavailable := false
	return ProductRecord{
		Found:           false,
		SearchTerm:      term,
		Name:            &name,
		Available:       &unavailable,
		NotFoundMessage: message,
	}
}

// discountPercent derives the rounded discount when both prices are present
// and the original exceeds the current.
func discountPercent(current, original *float64) *int {
	if current == nil || original == nil {
		return nil
	}
	if *original <= *current || *original == 0 {
		return nil
	}
	pct := int(math.Round(((*original - *current) / *original) * 100))
	return &pct
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

func stringField(m map[string]any, key string) *string {
	if m == nil {
		return nil
	}
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

func boolField(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	b, ok := m[key].(bool)
	if !ok {
		return nil
	}
	return &b
}

// numberField tolerates both JSON numbers and numeric strings; the upstream
// has been observed serializing prices either way.
func numberField(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func offersField(m map[string]any) []json.RawMessage {
	out := []json.RawMessage{}
	list, ok := m["offers"].([]any)
	if !ok {
		return out
	}
	for i, entry := range list {
		if i == maxOffers {
			break
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
