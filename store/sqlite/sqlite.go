/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Implements durable storage for schools, users, slots, packages, and
  payments, plus the atomic procedures the core depends on:
  - guarded hours increment/decrement (single-row arithmetic updates)
  - reserve-slot (slot claim + balance decrement in one transaction)
  - release-slot (slot release + refund in one transaction)
  - payment grant (payment insert + hours grant in one transaction,
    keyed on a unique provider payment reference)
  - the passed-slot sweep (batch, idempotent)

KEY TABLES:
  schools:            Tenant roots
  users:              Members with the hours_remaining counter
  slots:              Bookable lesson units with reserved/passed flags
  packages:           Purchasable hour bundles per school
  payments:           Settled purchases (UNIQUE provider_payment_ref)
  provider_customers: Provider customer reference -> user mapping

INDEXES:
  idx_payments_provider_ref: The payment idempotency key. A duplicate
  insert fails the whole grant transaction, which callers treat as an
  already-processed no-op.
  idx_slots_sweep: Candidate set for the passed-slot sweep.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single-writer
  model. With PostgreSQL the same statements run unchanged and row
  locking replaces the mutex.

WAL MODE:
  SQLite is opened with WAL so readers don't block during sweeps.

USAGE:
  store, err := sqlite.New("./data/school.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking:  Slot lifecycle on top of the atomic procedures
  - ledger:   The only mutation path for hours_remaining
  - payments: Reconciliation built on RecordPaymentGrant
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/drivehub/school-engine/school"
)

// Store implements the ledger store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		admin_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('student', 'instructor', 'admin')),
		hours_remaining INTEGER NOT NULL DEFAULT 0 CHECK (hours_remaining >= 0),
		package_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_school ON users(school_id);

	CREATE TABLE IF NOT EXISTS slots (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		instructor_id TEXT NOT NULL,
		student_id TEXT,
		starts_at TEXT NOT NULL,
		ends_at TEXT NOT NULL,
		vehicle TEXT,
		transmission TEXT,
		reserved INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		instructor_comment TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_slots_school_start ON slots(school_id, starts_at);

	-- Candidate set for the passed-slot sweep (hot path)
	CREATE INDEX IF NOT EXISTS idx_slots_sweep ON slots(ends_at)
		WHERE reserved = 1 AND passed = 0;

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		name TEXT NOT NULL,
		description TEXT,
		price TEXT NOT NULL,
		hours INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_packages_school ON packages(school_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		user_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		provider_payment_ref TEXT,
		receipt_url TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: payment idempotency. At most one payment row (and
	-- therefore one hours grant) per external payment reference.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_provider_ref
		ON payments(provider_payment_ref)
		WHERE provider_payment_ref IS NOT NULL AND provider_payment_ref != '';

	CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(school_id, user_id);

	CREATE TABLE IF NOT EXISTS provider_customers (
		customer_ref TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		school_id TEXT NOT NULL REFERENCES schools(id),
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SCHOOLS
// =============================================================================

func (s *Store) SaveSchool(ctx context.Context, sc school.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schools (id, name, slug, admin_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, slug = excluded.slug,
			admin_id = excluded.admin_id`,
		sc.ID, sc.Name, sc.Slug, nullString(sc.AdminID), sc.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return infraErr("failed to save school", err)
	}
	return nil
}

func (s *Store) GetSchool(ctx context.Context, id string) (*school.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, admin_id, created_at FROM schools WHERE id = ?`, id)

	var sc school.School
	var adminID sql.NullString
	var createdAt string
	if err := row.Scan(&sc.ID, &sc.Name, &sc.Slug, &adminID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, infraErr("failed to get school", err)
	}
	sc.AdminID = adminID.String
	sc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sc, nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u school.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, school_id, name, email, role, hours_remaining, package_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email,
			role = excluded.role`,
		u.ID, u.SchoolID, u.Name, u.Email, string(u.Role), u.HoursRemaining,
		nullString(u.PackageID), u.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return infraErr("failed to save user", err)
	}
	return nil
}

// GetUser returns a user scoped to a school, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, schoolID, id string) (*school.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, school_id, name, email, role, hours_remaining, package_id, created_at
		FROM users WHERE id = ? AND school_id = ?`, id, schoolID)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, school.ErrUserNotFound
		}
		return nil, infraErr("failed to get user", err)
	}
	return u, nil
}

// ListUsers returns a school's users, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, schoolID string, role school.Role) ([]school.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, school_id, name, email, role, hours_remaining, package_id, created_at
		FROM users WHERE school_id = ?`
	args := []any{schoolID}
	if role != "" {
		query += ` AND role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, infraErr("failed to list users", err)
	}
	defer rows.Close()

	var users []school.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, infraErr("failed to scan user", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// IncrementHours adds n hours to a user's balance. Unconditional credit;
// refunds and purchase grants both flow through here.
func (s *Store) IncrementHours(ctx context.Context, schoolID, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return incrementHours(ctx, s.db, schoolID, userID, n)
}

// DecrementHours subtracts n hours, failing with InsufficientHoursError
// if the balance would go negative. Single guarded UPDATE, never a
// read-modify-write.
func (s *Store) DecrementHours(ctx context.Context, schoolID, userID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return decrementHours(ctx, s.db, schoolID, userID, n)
}

func incrementHours(ctx context.Context, q querier, schoolID, userID string, n int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users SET hours_remaining = hours_remaining + ?
		WHERE id = ? AND school_id = ?`, n, userID, schoolID)
	if err != nil {
		return infraErr("failed to increment hours", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return school.ErrUserNotFound
	}
	return nil
}

func decrementHours(ctx context.Context, q querier, schoolID, userID string, n int) error {
	res, err := q.ExecContext(ctx, `
		UPDATE users SET hours_remaining = hours_remaining - ?
		WHERE id = ? AND school_id = ? AND hours_remaining >= ?`,
		n, userID, schoolID, n)
	if err != nil {
		return infraErr("failed to decrement hours", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	// Distinguish a missing user from a balance shortage.
	var available int
	err = q.QueryRowContext(ctx, `
		SELECT hours_remaining FROM users WHERE id = ? AND school_id = ?`,
		userID, schoolID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return school.ErrUserNotFound
	}
	if err != nil {
		return infraErr("failed to check balance", err)
	}
	return &school.InsufficientHoursError{UserID: userID, Available: available, Requested: n}
}

// =============================================================================
// SLOTS
// =============================================================================

// SlotFilter narrows ListSlots. Nil pointer fields are ignored.
type SlotFilter struct {
	From         *time.Time
	To           *time.Time
	Reserved     *bool
	Passed       *bool
	InstructorID string
	StudentID    string
}

func (s *Store) SaveSlot(ctx context.Context, sl school.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slots (id, school_id, instructor_id, student_id, starts_at, ends_at,
			vehicle, transmission, reserved, passed, instructor_comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sl.ID, sl.SchoolID, sl.InstructorID, nullString(sl.StudentID),
		sl.StartsAt.UTC().Format(time.RFC3339), sl.EndsAt.UTC().Format(time.RFC3339),
		sl.Vehicle, string(sl.Transmission), boolInt(sl.Reserved), boolInt(sl.Passed),
		nullString(sl.Comment), sl.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return infraErr("failed to save slot", err)
	}
	return nil
}

// GetSlot returns a slot scoped to a school, or ErrSlotNotFound.
func (s *Store) GetSlot(ctx context.Context, schoolID, id string) (*school.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, slotSelect+` WHERE id = ? AND school_id = ?`, id, schoolID)
	sl, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, school.ErrSlotNotFound
		}
		return nil, infraErr("failed to get slot", err)
	}
	return sl, nil
}

// ListSlots returns a school's slots matching the filter, ordered by
// start time.
func (s *Store) ListSlots(ctx context.Context, schoolID string, f SlotFilter) ([]school.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := slotSelect + ` WHERE school_id = ?`
	args := []any{schoolID}

	if f.From != nil {
		query += ` AND starts_at >= ?`
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		query += ` AND starts_at < ?`
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}
	if f.Reserved != nil {
		query += ` AND reserved = ?`
		args = append(args, boolInt(*f.Reserved))
	}
	if f.Passed != nil {
		query += ` AND passed = ?`
		args = append(args, boolInt(*f.Passed))
	}
	if f.InstructorID != "" {
		query += ` AND instructor_id = ?`
		args = append(args, f.InstructorID)
	}
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	query += ` ORDER BY starts_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, infraErr("failed to list slots", err)
	}
	defer rows.Close()

	var slots []school.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, infraErr("failed to scan slot", err)
		}
		slots = append(slots, *sl)
	}
	return slots, rows.Err()
}

// DeleteSlot removes an unreserved, not-yet-passed slot outright.
func (s *Store) DeleteSlot(ctx context.Context, schoolID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM slots WHERE id = ? AND school_id = ? AND reserved = 0 AND passed = 0`,
		id, schoolID)
	if err != nil {
		return infraErr("failed to delete slot", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.classifySlotConflict(ctx, s.db, schoolID, id)
	}
	return nil
}

// ReserveSlot claims a slot for a student and decrements their balance
// as one transaction. Either both effects commit or neither does.
func (s *Store) ReserveSlot(ctx context.Context, schoolID, slotID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infraErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE slots SET student_id = ?, reserved = 1
		WHERE id = ? AND school_id = ? AND reserved = 0 AND passed = 0`,
		studentID, slotID, schoolID)
	if err != nil {
		return infraErr("failed to claim slot", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.classifySlotConflict(ctx, tx, schoolID, slotID)
	}

	if err := decrementHours(ctx, tx, schoolID, studentID, 1); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return infraErr("failed to commit reservation", err)
	}
	return nil
}

// ReleaseSlot clears a reserved slot and refunds the assigned student
// one hour, as one transaction. Returns the student who held the slot.
func (s *Store) ReleaseSlot(ctx context.Context, schoolID, slotID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", infraErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var studentID sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT student_id FROM slots
		WHERE id = ? AND school_id = ? AND reserved = 1 AND passed = 0`,
		slotID, schoolID).Scan(&studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", s.classifySlotConflict(ctx, tx, schoolID, slotID)
	}
	if err != nil {
		return "", infraErr("failed to load slot", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE slots SET student_id = NULL, reserved = 0
		WHERE id = ? AND school_id = ?`, slotID, schoolID)
	if err != nil {
		return "", infraErr("failed to release slot", err)
	}

	if studentID.Valid && studentID.String != "" {
		if err := incrementHours(ctx, tx, schoolID, studentID.String, 1); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", infraErr("failed to commit cancellation", err)
	}
	return studentID.String, nil
}

// SetSlotComment records the instructor debrief on a completed slot.
// Write-once: a slot already carrying a comment rejects another.
func (s *Store) SetSlotComment(ctx context.Context, schoolID, slotID, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE slots SET instructor_comment = ?
		WHERE id = ? AND school_id = ? AND passed = 1
			AND (instructor_comment IS NULL OR instructor_comment = '')`,
		comment, slotID, schoolID)
	if err != nil {
		return infraErr("failed to set comment", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	var passed int
	var existing sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT passed, instructor_comment FROM slots WHERE id = ? AND school_id = ?`,
		slotID, schoolID).Scan(&passed, &existing)
	if errors.Is(err, sql.ErrNoRows) {
		return school.ErrSlotNotFound
	}
	if err != nil {
		return infraErr("failed to check slot", err)
	}
	if passed == 0 {
		return school.ErrSlotNotCompleted
	}
	return school.ErrCommentExists
}

// MarkSlotsPassed flips every reserved, unflagged slot whose end time is
// strictly before now to passed. Idempotent: passed is only ever set,
// never cleared, and already-flagged slots are excluded up front. Open
// slots are never candidates regardless of their times.
func (s *Store) MarkSlotsPassed(ctx context.Context, now time.Time) ([]school.SweptSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, infraErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, school_id FROM slots
		WHERE reserved = 1 AND passed = 0 AND ends_at < ?`,
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, infraErr("failed to scan for elapsed slots", err)
	}

	var swept []school.SweptSlot
	for rows.Next() {
		var sw school.SweptSlot
		if err := rows.Scan(&sw.ID, &sw.SchoolID); err != nil {
			rows.Close()
			return nil, infraErr("failed to scan slot", err)
		}
		swept = append(swept, sw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, infraErr("failed to scan for elapsed slots", err)
	}

	if len(swept) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(swept))
	args := make([]any, len(swept))
	for i, sw := range swept {
		placeholders[i] = "?"
		args[i] = sw.ID
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE slots SET passed = 1
		WHERE id IN (`+strings.Join(placeholders, ", ")+`) AND passed = 0`, args...)
	if err != nil {
		return nil, infraErr("failed to mark slots passed", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, infraErr("failed to commit sweep", err)
	}
	return swept, nil
}

// classifySlotConflict explains why a conditional slot update matched
// nothing: missing row, already reserved, or already completed.
func (s *Store) classifySlotConflict(ctx context.Context, q querier, schoolID, slotID string) error {
	var reserved, passed int
	err := q.QueryRowContext(ctx, `
		SELECT reserved, passed FROM slots WHERE id = ? AND school_id = ?`,
		slotID, schoolID).Scan(&reserved, &passed)
	if errors.Is(err, sql.ErrNoRows) {
		return school.ErrSlotNotFound
	}
	if err != nil {
		return infraErr("failed to check slot", err)
	}
	if passed == 1 {
		return school.ErrSlotAlreadyCompleted
	}
	if reserved == 1 {
		return school.ErrSlotAlreadyReserved
	}
	return school.ErrSlotNotFound
}

// =============================================================================
// PACKAGES
// =============================================================================

func (s *Store) SavePackage(ctx context.Context, p school.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packages (id, school_id, name, description, price, hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			description = excluded.description, price = excluded.price,
			hours = excluded.hours`,
		p.ID, p.SchoolID, p.Name, p.Description, p.Price.String(), p.Hours,
		p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return infraErr("failed to save package", err)
	}
	return nil
}

func (s *Store) GetPackage(ctx context.Context, schoolID, id string) (*school.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, school_id, name, description, price, hours, created_at
		FROM packages WHERE id = ? AND school_id = ?`, id, schoolID)

	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, infraErr("failed to get package", err)
	}
	return p, nil
}

// ListPackages returns a school's package catalog, cheapest first.
func (s *Store) ListPackages(ctx context.Context, schoolID string) ([]school.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, school_id, name, description, price, hours, created_at
		FROM packages WHERE school_id = ? ORDER BY CAST(price AS REAL)`, schoolID)
	if err != nil {
		return nil, infraErr("failed to list packages", err)
	}
	defer rows.Close()

	var packages []school.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, infraErr("failed to scan package", err)
		}
		packages = append(packages, *p)
	}
	return packages, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPaymentGrant inserts the payment row and grants the package's
// hours (plus the active-package assignment) in one transaction. The
// unique provider reference index makes redelivery safe: a duplicate
// insert fails with ErrDuplicatePayment before any hours move.
func (s *Store) RecordPaymentGrant(ctx context.Context, p school.Payment, grantHours int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infraErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, school_id, user_id, package_id, amount, currency,
			method, status, provider_payment_ref, receipt_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SchoolID, p.UserID, p.PackageID, p.Amount.String(), p.Currency,
		p.Method, string(p.Status), nullString(p.ProviderPaymentRef),
		nullString(p.ReceiptURL), p.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return school.ErrDuplicatePayment
		}
		return infraErr("failed to insert payment", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET hours_remaining = hours_remaining + ?, package_id = ?
		WHERE id = ? AND school_id = ?`,
		grantHours, p.PackageID, p.UserID, p.SchoolID)
	if err != nil {
		return infraErr("failed to grant hours", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return school.ErrUserNotFound
	}

	if err := tx.Commit(); err != nil {
		return infraErr("failed to commit payment", err)
	}
	return nil
}

// UpdatePaymentReceipt sets the receipt URL after the fact. Best-effort
// enrichment; a failure here never unwinds the grant.
func (s *Store) UpdatePaymentReceipt(ctx context.Context, paymentID, receiptURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE payments SET receipt_url = ? WHERE id = ?`, receiptURL, paymentID)
	if err != nil {
		return infraErr("failed to update receipt url", err)
	}
	return nil
}

// GetPaymentByProviderRef looks a payment up by its external reference.
func (s *Store) GetPaymentByProviderRef(ctx context.Context, ref string) (*school.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, paymentSelect+` WHERE provider_payment_ref = ?`, ref)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, infraErr("failed to get payment", err)
	}
	return p, nil
}

// ListPayments returns a school's payments, optionally for one user,
// newest first.
func (s *Store) ListPayments(ctx context.Context, schoolID, userID string) ([]school.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := paymentSelect + ` WHERE school_id = ?`
	args := []any{schoolID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, infraErr("failed to list payments", err)
	}
	defer rows.Close()

	var payments []school.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, infraErr("failed to scan payment", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// =============================================================================
// PROVIDER CUSTOMER MAPPING
// =============================================================================

// SaveCustomerRef links a provider customer reference to a user.
// Written when a checkout session is created for the user.
func (s *Store) SaveCustomerRef(ctx context.Context, customerRef, schoolID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_customers (customer_ref, user_id, school_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(customer_ref) DO UPDATE SET user_id = excluded.user_id,
			school_id = excluded.school_id`,
		customerRef, userID, schoolID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return infraErr("failed to save customer ref", err)
	}
	return nil
}

// ResolveCustomerRef maps a provider customer reference back to the
// internal user and school, or ErrUnknownCustomer.
func (s *Store) ResolveCustomerRef(ctx context.Context, customerRef string) (schoolID, userID string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT school_id, user_id FROM provider_customers WHERE customer_ref = ?`,
		customerRef).Scan(&schoolID, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", school.ErrUnknownCustomer
	}
	if err != nil {
		return "", "", infraErr("failed to resolve customer ref", err)
	}
	return schoolID, userID, nil
}

// =============================================================================
// SCANNING AND HELPERS
// =============================================================================

const slotSelect = `
	SELECT id, school_id, instructor_id, student_id, starts_at, ends_at,
		vehicle, transmission, reserved, passed, instructor_comment, created_at
	FROM slots`

const paymentSelect = `
	SELECT id, school_id, user_id, package_id, amount, currency, method,
		status, provider_payment_ref, receipt_url, created_at
	FROM payments`

// querier is satisfied by both *sql.DB and *sql.Tx so the atomic
// procedures can run standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*school.User, error) {
	var u school.User
	var role string
	var packageID sql.NullString
	var createdAt string
	if err := r.Scan(&u.ID, &u.SchoolID, &u.Name, &u.Email, &role,
		&u.HoursRemaining, &packageID, &createdAt); err != nil {
		return nil, err
	}
	u.Role = school.Role(role)
	u.PackageID = packageID.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func scanSlot(r rowScanner) (*school.Slot, error) {
	var sl school.Slot
	var studentID, vehicle, transmission, comment sql.NullString
	var startsAt, endsAt, createdAt string
	var reserved, passed int
	if err := r.Scan(&sl.ID, &sl.SchoolID, &sl.InstructorID, &studentID,
		&startsAt, &endsAt, &vehicle, &transmission, &reserved, &passed,
		&comment, &createdAt); err != nil {
		return nil, err
	}
	sl.StudentID = studentID.String
	sl.Vehicle = vehicle.String
	sl.Transmission = school.Transmission(transmission.String)
	sl.Reserved = reserved == 1
	sl.Passed = passed == 1
	sl.Comment = comment.String
	sl.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
	sl.EndsAt, _ = time.Parse(time.RFC3339, endsAt)
	sl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sl, nil
}

func scanPackage(r rowScanner) (*school.Package, error) {
	var p school.Package
	var desc sql.NullString
	var price, createdAt string
	if err := r.Scan(&p.ID, &p.SchoolID, &p.Name, &desc, &price, &p.Hours, &createdAt); err != nil {
		return nil, err
	}
	p.Description = desc.String
	p.Price, _ = decimal.NewFromString(price)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func scanPayment(r rowScanner) (*school.Payment, error) {
	var p school.Payment
	var providerRef, receiptURL sql.NullString
	var amount, status, createdAt string
	if err := r.Scan(&p.ID, &p.SchoolID, &p.UserID, &p.PackageID, &amount,
		&p.Currency, &p.Method, &status, &providerRef, &receiptURL, &createdAt); err != nil {
		return nil, err
	}
	p.Amount, _ = decimal.NewFromString(amount)
	p.Status = school.PaymentStatus(status)
	p.ProviderPaymentRef = providerRef.String
	p.ReceiptURL = receiptURL.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func infraErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(school.ErrStoreUnavailable, err))
}
