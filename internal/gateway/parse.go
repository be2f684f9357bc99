package gateway

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"stockia/backend/internal/domain"
)

// ParsedFields is the loosely typed object extracted from a model answer.
// It never leaves this package: ToRecord turns it into a record.
type ParsedFields map[string]any

// extractJSON returns the first balanced object in text that decodes as JSON.
// Braces inside string literals are ignored.
func extractJSON(text string) (ParsedFields, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			var fields ParsedFields
			if err := json.Unmarshal([]byte(text[start:end+1]), &fields); err == nil {
				return fields, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ToRecord fills every record field from fields, substituting the fixed
// fallback for anything absent or mistyped. ID and image references are left
// to the caller.
func ToRecord(fields ParsedFields, confidence int) domain.ProductRecord {
	return domain.ProductRecord{
		Name:            fields.text(domain.FallbackName, "productName", "name"),
		Brand:           fields.text(domain.FallbackBrand, "brand"),
		Barcode:         fields.text(domain.FallbackBarcode, "barcode"),
		Price:           fields.price(),
		Category:        fields.text(domain.FallbackCategory, "category"),
		Quantity:        fields.quantity(),
		Description:     fields.text(domain.FallbackDescription, "description"),
		Characteristics: fields.list(domain.FallbackCharacteristics, "characteristics"),
		TargetMarket:    fields.text(domain.FallbackTargetMarket, "targetMarket"),
		Usage:           fields.text(domain.FallbackUsage, "usage"),
		Confidence:      domain.ClampConfidence(confidence),
	}
}

func (f ParsedFields) text(fallback string, keys ...string) string {
	for _, key := range keys {
		if s, ok := f[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return fallback
}

func (f ParsedFields) price() string {
	switch v := f["price"].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return domain.FallbackPrice
}

func (f ParsedFields) quantity() int {
	switch v := f["quantity"].(type) {
	case float64:
		if v >= 0 && v <= math.MaxInt32 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			return n
		}
	}
	return domain.FallbackQuantity
}

func (f ParsedFields) list(fallback string, key string) string {
	switch v := f[key].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return fallback
}
