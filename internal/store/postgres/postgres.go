package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockia/backend/internal/domain"
	"stockia/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			registered    BOOLEAN NOT NULL DEFAULT false,
			created_at    TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS inventory_records (
			owner              TEXT NOT NULL,
			id                 TEXT NOT NULL,
			position           BIGSERIAL,
			image_url          TEXT NOT NULL,
			verified_image_url TEXT NOT NULL DEFAULT '',
			name               TEXT NOT NULL,
			brand              TEXT NOT NULL,
			barcode            TEXT NOT NULL,
			price              TEXT NOT NULL,
			category           TEXT NOT NULL,
			quantity           INTEGER NOT NULL CHECK (quantity >= 0),
			description        TEXT NOT NULL,
			characteristics    TEXT NOT NULL,
			target_market      TEXT NOT NULL,
			usage              TEXT NOT NULL,
			confidence         INTEGER NOT NULL CHECK (confidence BETWEEN 0 AND 100),
			PRIMARY KEY (owner, id)
		);
		CREATE INDEX IF NOT EXISTS idx_inventory_records_owner_position ON inventory_records (owner, position);

		CREATE TABLE IF NOT EXISTS publications (
			token      TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			ids        JSONB NOT NULL,
			seller     JSONB NOT NULL,
			mask       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

const recordColumns = `id, image_url, verified_image_url, name, brand, barcode, price, category,
	quantity, description, characteristics, target_market, usage, confidence`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.ProductRecord, error) {
	var r domain.ProductRecord
	err := row.Scan(&r.ID, &r.ImageURL, &r.VerifiedImageURL, &r.Name, &r.Brand, &r.Barcode, &r.Price,
		&r.Category, &r.Quantity, &r.Description, &r.Characteristics, &r.TargetMarket, &r.Usage, &r.Confidence)
	return r, err
}

func (s *Store) ListRecords(ctx context.Context, owner string) ([]domain.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE owner = $1
		ORDER BY position
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ProductRecord, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) GetRecord(ctx context.Context, owner string, id string) (*domain.ProductRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE owner = $1 AND id = $2
	`, owner, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetRecords(ctx context.Context, owner string, ids []string) (map[string]domain.ProductRecord, error) {
	out := make(map[string]domain.ProductRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, owner)
	placeholders := make([]string, 0, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM inventory_records
		WHERE owner = $1 AND id IN (`+strings.Join(placeholders, ",")+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

func (s *Store) InsertRecord(ctx context.Context, owner string, r domain.ProductRecord) error {
	if strings.TrimSpace(r.ID) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_records (owner, `+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, owner, r.ID, r.ImageURL, r.VerifiedImageURL, r.Name, r.Brand, r.Barcode, r.Price, r.Category,
		r.Quantity, r.Description, r.Characteristics, r.TargetMarket, r.Usage, r.Confidence)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ReplaceRecord(ctx context.Context, owner string, r domain.ProductRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_records
		SET image_url = $3, verified_image_url = $4, name = $5, brand = $6, barcode = $7, price = $8,
		    category = $9, quantity = $10, description = $11, characteristics = $12,
		    target_market = $13, usage = $14, confidence = $15
		WHERE owner = $1 AND id = $2
	`, owner, r.ID, r.ImageURL, r.VerifiedImageURL, r.Name, r.Brand, r.Barcode, r.Price, r.Category,
		r.Quantity, r.Description, r.Characteristics, r.TargetMarket, r.Usage, r.Confidence)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteRecord(ctx context.Context, owner string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) error {
	if strings.TrimSpace(account.ID) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, password_hash, registered, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, account.ID, nullIfEmpty(account.Username), account.PasswordHash, account.Registered, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.findAccount(ctx, "id", id)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return s.findAccount(ctx, "username", username)
}

func (s *Store) findAccount(ctx context.Context, column string, value string) (*domain.Account, error) {
	var (
		account  domain.Account
		username sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, registered, created_at
		FROM accounts
		WHERE `+column+` = $1
	`, value).Scan(&account.ID, &username, &account.PasswordHash, &account.Registered, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.Username = username.String
	return &account, nil
}

func (s *Store) RegisterAccount(ctx context.Context, id string, username string, passwordHash string) (*domain.Account, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET username = $2, password_hash = $3, registered = true
		WHERE id = $1 AND registered = false
	`, id, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetAccount(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) PutPublication(ctx context.Context, pub domain.Publication) error {
	if pub.Token == "" {
		return store.ErrInvalidInput
	}
	ids, seller, mask, err := encodePublication(pub)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO publications (token, owner, ids, seller, mask, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token)
		DO UPDATE SET owner = EXCLUDED.owner, ids = EXCLUDED.ids, seller = EXCLUDED.seller,
		              mask = EXCLUDED.mask, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
	`, pub.Token, pub.Owner, ids, seller, mask, pub.CreatedAt, pub.UpdatedAt, pub.ExpiresAt)
	return err
}

func (s *Store) GetPublication(ctx context.Context, token string) (*domain.Publication, error) {
	var (
		pub               domain.Publication
		ids, seller, mask []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, owner, ids, seller, mask, created_at, updated_at, expires_at
		FROM publications
		WHERE token = $1 AND expires_at > now()
	`, token).Scan(&pub.Token, &pub.Owner, &ids, &seller, &mask, &pub.CreatedAt, &pub.UpdatedAt, &pub.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(ids, &pub.IDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seller, &pub.Seller); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(mask, &pub.Mask); err != nil {
		return nil, err
	}
	return &pub, nil
}

func (s *Store) UpdatePublicationSettings(ctx context.Context, token string, seller domain.VirtualSellerConfig, mask domain.VisibleAttributeMask, at time.Time) (*domain.Publication, error) {
	sellerJSON, err := json.Marshal(seller)
	if err != nil {
		return nil, err
	}
	maskJSON, err := json.Marshal(mask)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE publications
		SET seller = $2, mask = $3, updated_at = $4
		WHERE token = $1 AND expires_at > now()
	`, token, sellerJSON, maskJSON, at)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(res); err != nil {
		return nil, err
	}
	return s.GetPublication(ctx, token)
}

func (s *Store) DeletePublication(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM publications WHERE token = $1`, token)
	return err
}

func encodePublication(pub domain.Publication) ([]byte, []byte, []byte, error) {
	ids, err := json.Marshal(pub.IDs)
	if err != nil {
		return nil, nil, nil, err
	}
	seller, err := json.Marshal(pub.Seller)
	if err != nil {
		return nil, nil, nil, err
	}
	mask, err := json.Marshal(pub.Mask)
	if err != nil {
		return nil, nil, nil, err
	}
	return ids, seller, mask, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}
