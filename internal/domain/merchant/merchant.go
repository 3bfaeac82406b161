// Package merchant holds the merchant read model consumed by the order
// tracking views and the owner-facing status toggle.
package merchant

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNoMerchant is returned when a profile owns no merchant.
var ErrNoMerchant = errors.New("no merchant for this profile")

// Summary is the read-only merchant block attached to orders.
type Summary struct {
	ID            string
	Name          string
	NameLocalized string
	LogoURL       string
	Rating        decimal.Decimal
	Address       string
	Phone         string
	Lat           *float64
	Lng           *float64
	Online        bool
}

// Application is a pending merchant onboarding request with uploaded
// document URLs.
type Application struct {
	ID           string
	ApplicantID  string
	ShopName     string
	ContactName  string
	ContactPhone string
	Address      string
	LicenseURL   string
	PermitURL    string
	Status       string
	CreatedAt    time.Time
}

// Repository defines persistence operations for merchants.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Summary, error)
	// GetByOwner returns the merchant owned by the given profile, or
	// ErrNoMerchant when the profile owns none.
	GetByOwner(ctx context.Context, ownerID string) (*Summary, error)
	// SetOnline toggles the owner's merchant online flag and returns the
	// updated summary.
	SetOnline(ctx context.Context, ownerID string, online bool) (*Summary, error)
	CreateApplication(ctx context.Context, a *Application) error
}
