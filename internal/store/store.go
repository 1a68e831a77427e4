package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists account billing state in SQLite. A single write connection
// serializes statements; WithAccountLock serializes whole read-modify-write
// sequences per account so concurrent webhook deliveries for the same
// account cannot interleave.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (or creates) the account database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "accounts.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, locks: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		account_id           TEXT PRIMARY KEY,
		tier                 TEXT NOT NULL DEFAULT 'free',
		license_key          TEXT NOT NULL DEFAULT '',
		expires_at           INTEGER,
		cancel_at            INTEGER,
		customer_id          TEXT NOT NULL DEFAULT '',
		subscription_id      TEXT NOT NULL DEFAULT '',
		pending_checkout_id  TEXT NOT NULL DEFAULT '',
		pending_tier         TEXT NOT NULL DEFAULT '',
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_subscription_id ON accounts(subscription_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_pending_checkout_id ON accounts(pending_checkout_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init account schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithAccountLock runs fn while holding the mutex for accountID. All
// read-modify-write sequences against one account must go through here.
func (s *Store) WithAccountLock(accountID string, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

const accountColumns = `
	account_id, tier, license_key, expires_at, cancel_at,
	customer_id, subscription_id, pending_checkout_id, pending_tier,
	created_at, updated_at`

// Get retrieves an account by ID. Returns (nil, nil) when absent.
func (s *Store) Get(accountID string) (*Account, error) {
	row := s.db.QueryRow(`SELECT`+accountColumns+`
		FROM accounts WHERE account_id = ?`, accountID)
	return scanAccount(row)
}

// GetBySubscriptionID retrieves the account owning a provider subscription.
// Returns (nil, nil) when no account references it.
func (s *Store) GetBySubscriptionID(subscriptionID string) (*Account, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT`+accountColumns+`
		FROM accounts WHERE subscription_id = ?`, subscriptionID)
	return scanAccount(row)
}

// GetByCheckoutID retrieves the account whose pending checkout matches.
// Returns (nil, nil) when no account references it.
func (s *Store) GetByCheckoutID(checkoutID string) (*Account, error) {
	if checkoutID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(`SELECT`+accountColumns+`
		FROM accounts WHERE pending_checkout_id = ?`, checkoutID)
	return scanAccount(row)
}

// List returns all accounts, newest first.
func (s *Store) List() ([]*Account, error) {
	rows, err := s.db.Query(`SELECT` + accountColumns + `
		FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// Upsert writes the full record for a.AccountID, creating it if absent.
func (s *Store) Upsert(a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	if a.AccountID == "" {
		return fmt.Errorf("account id is empty")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO accounts (
			account_id, tier, license_key, expires_at, cancel_at,
			customer_id, subscription_id, pending_checkout_id, pending_tier,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			tier = excluded.tier,
			license_key = excluded.license_key,
			expires_at = excluded.expires_at,
			cancel_at = excluded.cancel_at,
			customer_id = excluded.customer_id,
			subscription_id = excluded.subscription_id,
			pending_checkout_id = excluded.pending_checkout_id,
			pending_tier = excluded.pending_tier,
			updated_at = excluded.updated_at`,
		a.AccountID, a.Tier, a.LicenseKey, nullableTimeUnix(a.ExpiresAt), nullableTimeUnix(a.CancelAt),
		a.CustomerID, a.SubscriptionID, a.PendingCheckoutID, a.PendingTier,
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert account %q: %w", a.AccountID, err)
	}
	return nil
}

// CountByTier returns a map of stored tier -> account count.
func (s *Store) CountByTier() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT tier, COUNT(*) FROM accounts GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count accounts by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[tier] = count
	}
	return counts, rows.Err()
}

// ListExpiredPaid returns accounts still recorded on a paid tier whose
// expiry has passed as of now. The expiry sweeper downgrades these.
func (s *Store) ListExpiredPaid(now time.Time) ([]*Account, error) {
	rows, err := s.db.Query(`SELECT`+accountColumns+`
		FROM accounts
		WHERE tier != 'free' AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at ASC`, now.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (*Account, error) {
	var a Account
	var expiresAt, cancelAt sql.NullInt64
	var createdAt, updatedAt int64

	err := sc.Scan(
		&a.AccountID, &a.Tier, &a.LicenseKey, &expiresAt, &cancelAt,
		&a.CustomerID, &a.SubscriptionID, &a.PendingCheckoutID, &a.PendingTier,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if expiresAt.Valid {
		ts := time.Unix(expiresAt.Int64, 0).UTC()
		a.ExpiresAt = &ts
	}
	if cancelAt.Valid {
		ts := time.Unix(cancelAt.Int64, 0).UTC()
		a.CancelAt = &ts
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
