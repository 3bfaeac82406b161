package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned when no profile row matches the principal.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the minimal account record backing bearer-token principals.
type Profile struct {
	ID        string
	Nickname  string
	Phone     string
	AvatarURL string
	Beans     int
	CreatedAt time.Time
}

// ProfileRepository reads and seeds profile rows.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetByID returns one profile, or ErrProfileNotFound.
func (s *ProfileRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := s.pool.QueryRow(ctx, `
		SELECT id, nickname, phone, avatar_url, beans, created_at
		FROM profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Nickname, &p.Phone, &p.AvatarURL, &p.Beans, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile %q: %w", id, err)
	}
	return &p, nil
}

// Exists reports whether a profile row exists for the given id.
func (s *ProfileRepository) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking profile %q: %w", id, err)
	}
	return ok, nil
}

// Upsert creates or refreshes a profile row. Used by the ingest tooling.
func (s *ProfileRepository) Upsert(ctx context.Context, p *Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, nickname, phone, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			phone = EXCLUDED.phone,
			avatar_url = EXCLUDED.avatar_url`,
		p.ID, p.Nickname, p.Phone, p.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("upserting profile %q: %w", p.ID, err)
	}
	return nil
}
