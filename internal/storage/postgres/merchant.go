package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
)

var _ merchant.Repository = (*MerchantRepository)(nil)

// MerchantRepository implements merchant.Repository backed by PostgreSQL.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

// NewMerchantRepository returns a MerchantRepository that uses the given pool.
func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

const merchantColumns = `
	id, name, name_localized, logo_url, rating, address, phone,
	latitude, longitude, online`

// GetByID returns the merchant summary by its identifier.
func (s *MerchantRepository) GetByID(ctx context.Context, id string) (*merchant.Summary, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+merchantColumns+` FROM merchants WHERE id = $1`, id)
	m, err := scanMerchant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merchant.ErrNoMerchant
		}
		return nil, fmt.Errorf("getting merchant %q: %w", id, err)
	}
	return m, nil
}

// GetByOwner returns the merchant owned by the given profile. This is the
// get_my_merchant operation.
func (s *MerchantRepository) GetByOwner(ctx context.Context, ownerID string) (*merchant.Summary, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+merchantColumns+` FROM merchants WHERE owner_id = $1`, ownerID)
	m, err := scanMerchant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merchant.ErrNoMerchant
		}
		return nil, fmt.Errorf("getting merchant for owner %q: %w", ownerID, err)
	}
	return m, nil
}

// SetOnline toggles the owner's merchant online flag and returns the
// updated summary. This is the toggle_my_merchant_status operation.
func (s *MerchantRepository) SetOnline(ctx context.Context, ownerID string, online bool) (*merchant.Summary, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE merchants SET online = $2 WHERE owner_id = $1
		RETURNING`+merchantColumns,
		ownerID, online,
	)
	m, err := scanMerchant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merchant.ErrNoMerchant
		}
		return nil, fmt.Errorf("toggling merchant status for owner %q: %w", ownerID, err)
	}
	return m, nil
}

// CreateApplication stores a merchant onboarding request.
func (s *MerchantRepository) CreateApplication(ctx context.Context, a *merchant.Application) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merchant_applications (
			id, applicant_id, shop_name, contact_name, contact_phone,
			address, license_url, permit_url, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.ApplicantID, a.ShopName, a.ContactName, a.ContactPhone,
		a.Address, a.LicenseURL, a.PermitURL, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating merchant application %q: %w", a.ID, err)
	}
	return nil
}

// Upsert creates or refreshes a merchant row from a directory export. Used
// by the ingest tooling; the owner link is managed separately.
func (s *MerchantRepository) Upsert(ctx context.Context, m *merchant.Summary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merchants (
			id, name, name_localized, logo_url, rating, address, phone,
			latitude, longitude, online
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			name_localized = EXCLUDED.name_localized,
			logo_url = EXCLUDED.logo_url,
			rating = EXCLUDED.rating,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			online = EXCLUDED.online`,
		m.ID, m.Name, m.NameLocalized, m.LogoURL, m.Rating,
		m.Address, m.Phone, m.Lat, m.Lng, m.Online,
	)
	if err != nil {
		return fmt.Errorf("upserting merchant %q: %w", m.ID, err)
	}
	return nil
}

func scanMerchant(row pgx.Row) (*merchant.Summary, error) {
	var m merchant.Summary
	err := row.Scan(
		&m.ID, &m.Name, &m.NameLocalized, &m.LogoURL, &m.Rating,
		&m.Address, &m.Phone, &m.Lat, &m.Lng, &m.Online,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
