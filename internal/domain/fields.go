package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrUnknownField = errors.New("unknown field")

type Field string

const (
	FieldImageURL         Field = "image_url"
	FieldVerifiedImageURL Field = "verified_image_url"
	FieldName             Field = "product_name"
	FieldBrand            Field = "brand"
	FieldBarcode          Field = "barcode"
	FieldPrice            Field = "price"
	FieldCategory         Field = "category"
	FieldQuantity         Field = "quantity"
	FieldDescription      Field = "description"
	FieldCharacteristics  Field = "characteristics"
	FieldTargetMarket     Field = "target_market"
	FieldUsage            Field = "usage"
	FieldConfidence       Field = "confidence"
)

// ParseField accepts the JSON name of an editable field. The identifier is not
// editable.
func ParseField(name string) (Field, error) {
	f := Field(strings.TrimSpace(name))
	switch f {
	case FieldImageURL, FieldVerifiedImageURL, FieldName, FieldBrand, FieldBarcode, FieldPrice,
		FieldCategory, FieldQuantity, FieldDescription, FieldCharacteristics, FieldTargetMarket,
		FieldUsage, FieldConfidence:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
}

// ApplyField returns a copy of rec with one field replaced. Numeric fields are
// coerced instead of rejected: quantity falls back to 0 and confidence is
// clamped to [0,100].
func ApplyField(rec ProductRecord, field Field, value string) (ProductRecord, error) {
	switch field {
	case FieldImageURL:
		rec.ImageURL = value
	case FieldVerifiedImageURL:
		rec.VerifiedImageURL = value
	case FieldName:
		rec.Name = value
	case FieldBrand:
		rec.Brand = value
	case FieldBarcode:
		rec.Barcode = value
	case FieldPrice:
		rec.Price = value
	case FieldCategory:
		rec.Category = value
	case FieldQuantity:
		rec.Quantity = CoerceQuantity(value)
	case FieldDescription:
		rec.Description = value
	case FieldCharacteristics:
		rec.Characteristics = value
	case FieldTargetMarket:
		rec.TargetMarket = value
	case FieldUsage:
		rec.Usage = value
	case FieldConfidence:
		rec.Confidence = ClampConfidence(leadingInt(value))
	default:
		return rec, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return rec, nil
}

// CoerceQuantity parses the leading integer of value; anything unparsable or
// negative becomes 0.
func CoerceQuantity(value string) int {
	n := leadingInt(value)
	if n < 0 {
		return 0
	}
	return n
}

func ClampConfidence(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}

// StringValue normalises a loosely typed JSON value into the textual form
// ApplyField expects.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func leadingInt(value string) int {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		if f > math.MaxInt32 {
			return math.MaxInt32
		}
		if f < math.MinInt32 {
			return math.MinInt32
		}
		return int(f)
	}

	end := 0
	if end < len(value) && (value[end] == '-' || value[end] == '+') {
		end++
	}
	digits := end
	for digits < len(value) && value[digits] >= '0' && value[digits] <= '9' {
		digits++
	}
	if digits == end {
		return 0
	}
	n, err := strconv.Atoi(value[:digits])
	if err != nil {
		return 0
	}
	return n
}
