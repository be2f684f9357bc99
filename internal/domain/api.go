package domain

import "time"

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	Role        string     `json:"role"`
	ExpiresAt   string     `json:"expires_at"`
	Quota       QuotaState `json:"quota"`
}

// FieldPatchRequest carries a single-field edit. Value may be a JSON string or
// number; it is normalised before being applied.
type FieldPatchRequest struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type BarcodeCaptureRequest struct {
	Code string `json:"code"`
}

type SessionSnapshot struct {
	State     string         `json:"state"`
	Draft     *ProductRecord `json:"draft,omitempty"`
	Queued    int            `json:"queued"`
	Quota     QuotaState     `json:"quota"`
	Remaining int            `json:"remaining"`
	Prompt    *Prompt        `json:"prompt,omitempty"`
}

type PublishRequest struct {
	IDs    []string              `json:"ids"`
	Seller *VirtualSellerConfig  `json:"seller,omitempty"`
	Mask   *VisibleAttributeMask `json:"mask,omitempty"`
}

type PublishSettingsRequest struct {
	Seller VirtualSellerConfig  `json:"seller"`
	Mask   VisibleAttributeMask `json:"mask"`
}

type PublishResponse struct {
	Token     string    `json:"token"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SharedProduct is the masked projection of a record on the public catalog.
// Optional fields are omitted when the mask hides them.
type SharedProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"product_name"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
	Category    *string `json:"category,omitempty"`
	Quantity    *int    `json:"quantity,omitempty"`
	Brand       *string `json:"brand,omitempty"`
	Price       *string `json:"price,omitempty"`
	ContactURL  string  `json:"contact_url,omitempty"`
}

type SharedCatalog struct {
	Token     string              `json:"token"`
	Seller    VirtualSellerConfig `json:"seller"`
	Products  []SharedProduct     `json:"products"`
	ExpiresAt time.Time           `json:"expires_at"`
}
