package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/cashback"
	"github.com/warp/cashback-engine/factory"
	"github.com/warp/cashback-engine/generic"
)

var (
	_ cashback.AccountSource  = (*Store)(nil)
	_ cashback.CategorySource = (*Store)(nil)
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountRecord is a stored account with its raw cashback config.
type AccountRecord struct {
	ID             generic.AccountID
	Name           string
	Type           cashback.AccountType
	CreditLimit    *decimal.Decimal
	CashbackConfig json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Account converts the record for the engine, parsing the config leniently.
func (r AccountRecord) Account() cashback.Account {
	cfg, anomalies := factory.NewConfigFactory().Parse(r.CashbackConfig)
	return cashback.Account{
		ID:              r.ID,
		Name:            r.Name,
		Type:            r.Type,
		CreditLimit:     r.CreditLimit,
		Cashback:        cfg,
		ConfigAnomalies: anomalies,
		ConfigVersion:   configVersion(r.CashbackConfig),
	}
}

// configVersion fingerprints the raw config; "" when there is none.
func configVersion(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16)
}

// SaveAccount inserts or updates an account.
func (s *Store) SaveAccount(ctx context.Context, rec AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, type, credit_limit, cashback_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			credit_limit = excluded.credit_limit,
			cashback_config = excluded.cashback_config,
			updated_at = excluded.updated_at
	`,
		rec.ID, rec.Name, rec.Type, nullDecimal(rec.CreditLimit),
		nullString(string(rec.CashbackConfig)), now, now,
	)
	return errors.Wrap(err, "failed to save account")
}

// SetCashbackConfig replaces an account's raw cashback config.
func (s *Store) SetCashbackConfig(ctx context.Context, id generic.AccountID, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET cashback_config = ?, updated_at = ? WHERE id = ?",
		nullString(string(raw)), formatTime(time.Now()), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update cashback config")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return generic.ErrAccountNotFound
	}
	return nil
}

// GetAccountRecord returns the stored account row.
func (s *Store) GetAccountRecord(ctx context.Context, id generic.AccountID) (*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.queryAccounts(ctx, accountSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, generic.ErrAccountNotFound
	}
	return &recs[0], nil
}

// GetAccount implements cashback.AccountSource.
func (s *Store) GetAccount(ctx context.Context, id generic.AccountID) (*cashback.Account, error) {
	rec, err := s.GetAccountRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	acct := rec.Account()
	return &acct, nil
}

// ListAccounts returns every account ordered by name.
func (s *Store) ListAccounts(ctx context.Context) ([]AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx, accountSelect+" ORDER BY name ASC, id ASC")
}

const accountSelect = `SELECT id, name, type, credit_limit, cashback_config, created_at, updated_at FROM accounts`

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query accounts")
	}
	defer rows.Close()

	var recs []AccountRecord
	for rows.Next() {
		var (
			rec                  AccountRecord
			creditLimit, config  sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Type, &creditLimit, &config, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan account")
		}
		rec.CreditLimit = parseNullDecimal(creditLimit)
		if config.Valid {
			rec.CashbackConfig = json.RawMessage(config.String)
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		recs = append(recs, rec)
	}
	return recs, errors.Wrap(rows.Err(), "failed to read accounts")
}

// =============================================================================
// CATEGORIES
// =============================================================================

// SaveCategory inserts or updates a category.
func (s *Store) SaveCategory(ctx context.Context, c cashback.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make([]string, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = string(t)
	}
	categoryType := c.Type
	if categoryType == "" {
		categoryType = cashback.CategoryExpense
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, type, parent_id, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			parent_id = excluded.parent_id,
			tags = excluded.tags
	`, c.ID, c.Name, categoryType, nullString(c.ParentID), strings.Join(tags, ","), formatTime(time.Now()))
	return errors.Wrap(err, "failed to save category")
}

// ListCategories implements cashback.CategorySource.
func (s *Store) ListCategories(ctx context.Context) ([]cashback.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type, parent_id, tags FROM categories ORDER BY name ASC, id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query categories")
	}
	defer rows.Close()

	var categories []cashback.Category
	for rows.Next() {
		var (
			c        cashback.Category
			parentID sql.NullString
			tags     string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &parentID, &tags); err != nil {
			return nil, errors.Wrap(err, "failed to scan category")
		}
		c.ParentID = parentID.String
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				c.Tags = append(c.Tags, cashback.CategoryTag(tag))
			}
		}
		categories = append(categories, c)
	}
	return categories, errors.Wrap(rows.Err(), "failed to read categories")
}

// =============================================================================
// SHOPS
// =============================================================================

// Shop is a merchant that merchant rules can target.
type Shop struct {
	ID                string
	Name              string
	DefaultCategoryID string
}

// SaveShop inserts or updates a shop.
func (s *Store) SaveShop(ctx context.Context, shop Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, default_category_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			default_category_id = excluded.default_category_id
	`, shop.ID, shop.Name, nullString(shop.DefaultCategoryID), formatTime(time.Now()))
	return errors.Wrap(err, "failed to save shop")
}

// ListShops returns every shop ordered by name.
func (s *Store) ListShops(ctx context.Context) ([]Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, default_category_id FROM shops ORDER BY name ASC, id ASC")
	if err != nil {
		return nil, errors.Wrap(err, "failed to query shops")
	}
	defer rows.Close()

	var shops []Shop
	for rows.Next() {
		var (
			shop       Shop
			categoryID sql.NullString
		)
		if err := rows.Scan(&shop.ID, &shop.Name, &categoryID); err != nil {
			return nil, errors.Wrap(err, "failed to scan shop")
		}
		shop.DefaultCategoryID = categoryID.String
		shops = append(shops, shop)
	}
	return shops, errors.Wrap(rows.Err(), "failed to read shops")
}
