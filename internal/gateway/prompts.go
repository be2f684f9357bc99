package gateway

import "fmt"

const recordShape = `{
  "productName": "string",
  "brand": "string",
  "barcode": "string or empty if not visible",
  "price": "string with currency if visible",
  "category": "string",
  "quantity": number,
  "description": "string",
  "characteristics": ["string"],
  "targetMarket": "string",
  "usage": "string"
}`

// ImagePrompt asks the model to describe the product in a photo.
const ImagePrompt = "Analyze this product image for a retail inventory. " +
	"Answer only with a JSON object of this shape and no other text:\n" + recordShape

// BarcodePrompt asks the model to identify the product behind a scanned code.
func BarcodePrompt(code string) string {
	return fmt.Sprintf("A product with barcode %q was scanned for a retail inventory. "+
		"Identify the most likely product and answer only with a JSON object of this shape and no other text, "+
		"using %q as the barcode:\n%s", code, code, recordShape)
}

// ReferenceQuery is the image-search query for a recognised product.
func ReferenceQuery(brand string, name string) string {
	if brand == "" {
		return name
	}
	return brand + " " + name
}
