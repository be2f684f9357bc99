package domain

import "time"

// ProductRecord is one inventory item, either a pending draft or a confirmed
// entry. Every field is always populated.
type ProductRecord struct {
	ID               string `json:"id"`
	ImageURL         string `json:"image_url"`
	VerifiedImageURL string `json:"verified_image_url,omitempty"`
	Name             string `json:"product_name"`
	Brand            string `json:"brand"`
	Barcode          string `json:"barcode"`
	Price            string `json:"price"`
	Category         string `json:"category"`
	Quantity         int    `json:"quantity"`
	Description      string `json:"description"`
	Characteristics  string `json:"characteristics"`
	TargetMarket     string `json:"target_market"`
	Usage            string `json:"usage"`
	Confidence       int    `json:"confidence"`
}

// Literal fallbacks substituted for fields the analysis did not yield.
const (
	FallbackName            = "Unknown product"
	FallbackBrand           = "Unknown brand"
	FallbackBarcode         = "Not detected"
	FallbackPrice           = "Not available"
	FallbackCategory        = "Uncategorized"
	FallbackQuantity        = 1
	FallbackDescription     = "No description available"
	FallbackCharacteristics = "Not specified"
	FallbackTargetMarket    = "Not specified"
	FallbackUsage           = "Not specified"

	PlaceholderImageURL = "https://placehold.co/400x400?text=No+image"
)

// Confidence constants per capture path.
const (
	ImageConfidence   = 75
	BarcodeConfidence = 85
)

type QuotaState struct {
	Used       int  `json:"used"`
	Total      int  `json:"total"`
	Registered bool `json:"registered"`
}

func (q QuotaState) Remaining() int {
	if q.Used >= q.Total {
		return 0
	}
	return q.Total - q.Used
}

type PromptKind string

const (
	PromptRegister PromptKind = "register"
	PromptUpgrade  PromptKind = "upgrade"
)

const SalesContactURL = "mailto:sales@stockia.app?subject=Interested%20in%20Stockia%20Premium"

// Prompt asks the user to register for more analyses or to contact sales.
type Prompt struct {
	Kind       PromptKind `json:"kind"`
	Message    string     `json:"message"`
	ContactURL string     `json:"contact_url,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
}

func PromptFor(state QuotaState, at time.Time) Prompt {
	if !state.Registered {
		return Prompt{
			Kind:     PromptRegister,
			Message:  "You've used your free analyses. Create a free account to get more.",
			IssuedAt: at,
		}
	}
	return Prompt{
		Kind:       PromptUpgrade,
		Message:    "You've reached your analysis limit. Contact us to upgrade.",
		ContactURL: SalesContactURL,
		IssuedAt:   at,
	}
}

type SellerBehavior string

const (
	BehaviorFriendly     SellerBehavior = "friendly"
	BehaviorProfessional SellerBehavior = "professional"
	BehaviorEnthusiastic SellerBehavior = "enthusiastic"
	BehaviorCasual       SellerBehavior = "casual"
)

func (b SellerBehavior) Valid() bool {
	switch b {
	case BehaviorFriendly, BehaviorProfessional, BehaviorEnthusiastic, BehaviorCasual:
		return true
	}
	return false
}

type VirtualSellerConfig struct {
	Name               string         `json:"name"`
	AvatarURL          string         `json:"avatar_url"`
	Personality        string         `json:"personality"`
	WelcomeMessage     string         `json:"welcome_message"`
	CatalogTitle       string         `json:"catalog_title"`
	CatalogDescription string         `json:"catalog_description"`
	Behavior           SellerBehavior `json:"behavior"`
	PhoneNumber        string         `json:"phone_number"`
	AdaptToUser        bool           `json:"adapt_to_user"`
}

func DefaultSellerConfig() VirtualSellerConfig {
	return VirtualSellerConfig{
		Name:               "Sofia",
		AvatarURL:          "https://images.unsplash.com/photo-1573496359142-b8d87734a5a2?w=200&h=200&fit=crop",
		Personality:        "A friendly, expert seller who knows every product in detail",
		WelcomeMessage:     "Hi! Welcome to our store. I'm here to help you find exactly what you need.",
		CatalogTitle:       "Premium Product Catalog",
		CatalogDescription: "Discover our exclusive selection of high quality products",
		Behavior:           BehaviorFriendly,
		AdaptToUser:        true,
	}
}

// VisibleAttributeMask selects which record fields the public catalog shows.
type VisibleAttributeMask struct {
	Category bool `json:"category"`
	Quantity bool `json:"quantity"`
	Brand    bool `json:"brand"`
	Price    bool `json:"price"`
}

func DefaultMask() VisibleAttributeMask {
	return VisibleAttributeMask{Category: true, Quantity: true}
}

type Publication struct {
	Token     string               `json:"token"`
	Owner     string               `json:"owner"`
	IDs       []string             `json:"ids"`
	Seller    VirtualSellerConfig  `json:"seller"`
	Mask      VisibleAttributeMask `json:"mask"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

func (p Publication) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

const (
	RoleGuest = "guest"
	RoleUser  = "user"
)

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username,omitempty"`
	PasswordHash string    `json:"-"`
	Registered   bool      `json:"registered"`
	CreatedAt    time.Time `json:"created_at"`
}

type Actor struct {
	Subject  string
	Username string
	Role     string
}

type EventType string

const (
	EventRecordConfirmed  EventType = "record.confirmed"
	EventRecordRemoved    EventType = "record.removed"
	EventCatalogPublished EventType = "catalog.published"
)

type InventoryEvent struct {
	Type     EventType `json:"type"`
	Owner    string    `json:"owner"`
	RecordID string    `json:"record_id,omitempty"`
	Token    string    `json:"token,omitempty"`
	At       time.Time `json:"at"`
}
