// Package billing persists actor credit balances and usage history. Every
// store round-trip goes through the retry executor so a flaky database
// connection does not immediately fail a request.
package billing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facturio-bot/server/internal/core"
	"github.com/facturio-bot/server/internal/retry"
)

// Status is an actor's service class. It feeds the cooldown tier
// resolution and nothing else authorization-wise; "blocked" is the only
// access check in scope.
type Status string

const (
	StatusFree    Status = "free"
	StatusPremium Status = "premium"
	StatusStaff   Status = "staff"
)

func (s Status) String() string {
	return string(s)
}

// DefaultStartingCredits is granted to a newly seen actor.
const DefaultStartingCredits = 100

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrCodeNotFound        = errors.New("referral code not found")
	ErrSelfReferral        = errors.New("cannot redeem own referral code")
	ErrReferralAlreadyUsed = errors.New("referral code already redeemed")
)

// User is one actor's billing row.
type User struct {
	ActorID      string
	Credits      int64
	CreditsSpent int64
	Status       Status
	Blocked      bool
	ReferralCode string
	ReferredBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAfford reports whether the user can pay cost; premium and staff
// actors generate for free.
func (u User) CanAfford(cost int64) bool {
	return u.Credits >= cost || u.Status == StatusPremium || u.Status == StatusStaff
}

// Store provides SQLite-backed billing persistence.
type Store struct {
	db    *sql.DB
	exec  *retry.Executor
	clock core.Clock

	// StartingCredits overrides DefaultStartingCredits when positive.
	StartingCredits int64
}

// New returns a Store bound to an existing database handle. A nil executor
// gets the default retry policy; a nil clock gets the system clock.
func New(db *sql.DB, exec *retry.Executor, clock core.Clock) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("billing: db is nil")
	}
	if exec == nil {
		exec = retry.NewExecutor()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Store{db: db, exec: exec, clock: clock, StartingCredits: DefaultStartingCredits}, nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// newReferralCode returns a 10-character uppercase hex code.
func newReferralCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("referral code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

const userColumns = `actor_id, credits, credits_spent, status, blocked, referral_code, referred_by, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var (
		u          User
		status     string
		blocked    int
		referredBy sql.NullString
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&u.ActorID, &u.Credits, &u.CreditsSpent, &status, &blocked, &u.ReferralCode, &referredBy, &createdAt, &updatedAt)
	if err != nil {
		return User{}, err
	}
	u.Status = Status(status)
	u.Blocked = blocked != 0
	u.ReferredBy = referredBy.String
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return u, nil
}

// Get loads one actor's row.
func (s *Store) Get(ctx context.Context, actorID string) (User, error) {
	return retry.DoValue(ctx, s.exec, "billing.get", func(ctx context.Context) (User, error) {
		row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE actor_id = ?`, actorID)
		u, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		if err != nil {
			return User{}, fmt.Errorf("get user: %w", err)
		}
		return u, nil
	})
}

// FindOrCreate returns the actor's row, creating it with starting credits
// and a fresh referral code on first contact.
func (s *Store) FindOrCreate(ctx context.Context, actorID string) (User, error) {
	u, err := s.Get(ctx, actorID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	code, err := newReferralCode()
	if err != nil {
		return User{}, err
	}
	starting := s.StartingCredits
	if starting <= 0 {
		starting = DefaultStartingCredits
	}

	err = s.exec.Do(ctx, "billing.create", func(ctx context.Context) error {
		now := s.now()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (actor_id, credits, credits_spent, status, blocked, referral_code, created_at, updated_at)
			VALUES (?, ?, 0, ?, 0, ?, ?, ?)
			ON CONFLICT(actor_id) DO NOTHING`,
			actorID, starting, string(StatusFree), code, now, now)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return s.Get(ctx, actorID)
}

// AdjustCredits applies delta to the actor's balance, floored at zero,
// and appends a transaction row, as one all-or-nothing unit. Negative
// deltas accrue credits_spent.
func (s *Store) AdjustCredits(ctx context.Context, actorID string, delta int64, description string) (User, error) {
	return retry.DoValue(ctx, s.exec, "billing.adjust", func(ctx context.Context) (User, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return User{}, fmt.Errorf("adjust credits: begin: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE actor_id = ?`, actorID)
		u, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		if err != nil {
			return User{}, fmt.Errorf("adjust credits: load: %w", err)
		}

		newCredits := u.Credits + delta
		if newCredits < 0 {
			newCredits = 0
		}
		newSpent := u.CreditsSpent
		if delta < 0 {
			newSpent += -delta
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = ?, credits_spent = ?, updated_at = ? WHERE actor_id = ?`,
			newCredits, newSpent, now, actorID); err != nil {
			return User{}, fmt.Errorf("adjust credits: update: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (actor_id, amount, description, kind, created_at) VALUES (?, ?, ?, 'adjustment', ?)`,
			actorID, delta, description, now); err != nil {
			return User{}, fmt.Errorf("adjust credits: record: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return User{}, fmt.Errorf("adjust credits: commit: %w", err)
		}

		u.Credits = newCredits
		u.CreditsSpent = newSpent
		return u, nil
	})
}

// RecordUsage appends one usage row.
func (s *Store) RecordUsage(ctx context.Context, actorID, action, details string) error {
	return s.exec.Do(ctx, "billing.usage", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO usage_log (actor_id, action, details, created_at) VALUES (?, ?, ?, ?)`,
			actorID, action, details, s.now())
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		return nil
	})
}

// Transfer moves amount from one actor to another as a single
// all-or-nothing unit: either both balances move and both transaction rows
// land, or nothing does.
func (s *Store) Transfer(ctx context.Context, fromID, toID string, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("transfer: amount must be positive")
	}
	return s.exec.Do(ctx, "billing.transfer", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("transfer: begin: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE actor_id = ?`, fromID)
		payer, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("transfer: load payer: %w", err)
		}
		if payer.Credits < amount {
			return ErrInsufficientCredits
		}

		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = credits + ?, updated_at = ? WHERE actor_id = ?`,
			amount, now, toID)
		if err != nil {
			return fmt.Errorf("transfer: credit payee: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = credits - ?, updated_at = ? WHERE actor_id = ?`,
			amount, now, fromID); err != nil {
			return fmt.Errorf("transfer: debit payer: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (actor_id, amount, description, kind, created_at) VALUES (?, ?, ?, 'transfer_out', ?)`,
			fromID, -amount, description, now); err != nil {
			return fmt.Errorf("transfer: record debit: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (actor_id, amount, description, kind, created_at) VALUES (?, ?, ?, 'transfer_in', ?)`,
			toID, amount, description, now); err != nil {
			return fmt.Errorf("transfer: record credit: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("transfer: commit: %w", err)
		}
		return nil
	})
}

// RedeemReferral grants the one-time referral bonus to both sides, as one
// all-or-nothing unit. An actor may redeem at most one code, never their own.
func (s *Store) RedeemReferral(ctx context.Context, actorID, code string, referredBonus, referrerBonus int64) error {
	return s.exec.Do(ctx, "billing.referral", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("redeem referral: begin: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var referrerID string
		err = tx.QueryRowContext(ctx, `SELECT actor_id FROM users WHERE referral_code = ?`, code).Scan(&referrerID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCodeNotFound
		}
		if err != nil {
			return fmt.Errorf("redeem referral: lookup: %w", err)
		}
		if referrerID == actorID {
			return ErrSelfReferral
		}

		now := s.now()
		// guard: referred_by only transitions from NULL once
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET referred_by = ?, credits = credits + ?, updated_at = ? WHERE actor_id = ? AND referred_by IS NULL`,
			referrerID, referredBonus, now, actorID)
		if err != nil {
			return fmt.Errorf("redeem referral: mark redeemed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("redeem referral: rows affected: %w", err)
		}
		if n == 0 {
			return ErrReferralAlreadyUsed
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = credits + ?, updated_at = ? WHERE actor_id = ?`,
			referrerBonus, now, referrerID); err != nil {
			return fmt.Errorf("redeem referral: credit referrer: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (actor_id, amount, description, kind, created_at) VALUES (?, ?, ?, 'referral_bonus', ?)`,
			actorID, referredBonus, fmt.Sprintf("referral bonus (code %s)", code), now); err != nil {
			return fmt.Errorf("redeem referral: record referred: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (actor_id, amount, description, kind, created_at) VALUES (?, ?, ?, 'referral_bonus', ?)`,
			referrerID, referrerBonus, fmt.Sprintf("referral bonus (referred %s)", actorID), now); err != nil {
			return fmt.Errorf("redeem referral: record referrer: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("redeem referral: commit: %w", err)
		}
		return nil
	})
}

// SetStatus updates an actor's service class, an administrative operation.
func (s *Store) SetStatus(ctx context.Context, actorID string, status Status) error {
	return s.exec.Do(ctx, "billing.set-status", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET status = ?, updated_at = ? WHERE actor_id = ?`,
			string(status), s.now(), actorID)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// SetBlocked flips an actor's blocked flag, an administrative operation.
func (s *Store) SetBlocked(ctx context.Context, actorID string, blocked bool) error {
	return s.exec.Do(ctx, "billing.set-blocked", func(ctx context.Context) error {
		flag := 0
		if blocked {
			flag = 1
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE users SET blocked = ?, updated_at = ? WHERE actor_id = ?`,
			flag, s.now(), actorID)
		if err != nil {
			return fmt.Errorf("set blocked: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
