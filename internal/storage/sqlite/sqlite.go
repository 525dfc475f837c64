package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// SQLiteDB implements storage.Storage on top of a SQLite database.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the SQLite database at dbPath.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	// busy_timeout avoids spurious SQLITE_BUSY under concurrent writers.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_loc=UTC", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Initialize is a no-op - tables are managed via migrations (see the
// migrations/ directory and cmd/migrate).
func (s *SQLiteDB) Initialize(ctx context.Context) error {
	return nil
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for the migration runner.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id, isbn, title, author, COALESCE(publisher,''), COALESCE(published_year,0),
	COALESCE(genre,''), total_copies, available_copies, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Publisher, &b.PublishedYear,
		&b.Genre, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBook inserts a new book and returns it with its assigned id.
func (s *SQLiteDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO books (isbn, title, author, publisher, published_year, genre,
			total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ISBN, book.Title, book.Author, book.Publisher, book.PublishedYear, book.Genre,
		book.TotalCopies, book.AvailableCopies, book.CreatedAt, book.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: books.isbn") {
			return models.Book{}, storage.ErrDuplicateISBN
		}
		return models.Book{}, fmt.Errorf("failed to create book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to read book id: %w", err)
	}
	book.ID = id
	return book, nil
}

// FindBookByID looks a book up by id, reporting absence via the found flag.
func (s *SQLiteDB) FindBookByID(ctx context.Context, id int64) (models.Book, bool, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.Book{}, false, nil
	}
	if err != nil {
		return models.Book{}, false, fmt.Errorf("failed to find book: %w", err)
	}
	return book, true, nil
}

// FindBookByISBN looks a book up by its ISBN.
func (s *SQLiteDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, bool, error) {
	book, err := scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE isbn = ?`, isbn))
	if err == sql.ErrNoRows {
		return models.Book{}, false, nil
	}
	if err != nil {
		return models.Book{}, false, fmt.Errorf("failed to find book by isbn: %w", err)
	}
	return book, true, nil
}

// ListBooks returns the whole catalog ordered by title.
func (s *SQLiteDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books ORDER BY title`)
}

// SearchBooks matches the term against title, author, ISBN, genre and
// publisher.
func (s *SQLiteDB) SearchBooks(ctx context.Context, term string) ([]models.Book, error) {
	if strings.TrimSpace(term) == "" {
		return s.ListBooks(ctx)
	}
	pattern := "%" + term + "%"
	return s.queryBooks(ctx, `
		SELECT `+bookColumns+` FROM books
		WHERE title LIKE ? OR author LIKE ? OR isbn LIKE ?
			OR COALESCE(genre,'') LIKE ? OR COALESCE(publisher,'') LIKE ?
		ORDER BY title`,
		pattern, pattern, pattern, pattern, pattern)
}

func (s *SQLiteDB) queryBooks(ctx context.Context, query string, args ...any) ([]models.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook persists book attributes, recomputing the available-copy
// count from the open-loan count. The count and the write share one
// transaction so a concurrent issue or return is never overwritten; the
// caller's AvailableCopies value is ignored.
func (s *SQLiteDB) UpdateBook(ctx context.Context, book models.Book) (models.Book, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to begin book update: %w", err)
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE book_id = ? AND status = ?`,
		book.ID, models.StatusIssued).Scan(&open); err != nil {
		return models.Book{}, fmt.Errorf("failed to count open loans: %w", err)
	}
	book.AvailableCopies = book.TotalCopies - open
	if book.AvailableCopies < 0 {
		book.AvailableCopies = 0
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET isbn = ?, title = ?, author = ?, publisher = ?,
			published_year = ?, genre = ?, total_copies = ?, available_copies = ?,
			updated_at = ?
		WHERE id = ?`,
		book.ISBN, book.Title, book.Author, book.Publisher, book.PublishedYear,
		book.Genre, book.TotalCopies, book.AvailableCopies, book.UpdatedAt, book.ID); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: books.isbn") {
			return models.Book{}, storage.ErrDuplicateISBN
		}
		return models.Book{}, fmt.Errorf("failed to update book: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Book{}, fmt.Errorf("failed to commit book update: %w", err)
	}
	return book, nil
}

// DeleteBook removes a book unless an open loan still references it. The
// check and the delete run in one transaction so a concurrent issue cannot
// slip in between.
func (s *SQLiteDB) DeleteBook(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE book_id = ? AND status = ?`,
		id, models.StatusIssued).Scan(&open); err != nil {
		return fmt.Errorf("failed to count open loans: %w", err)
	}
	if open > 0 {
		return storage.ErrBookOnLoan
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return tx.Commit()
}

// CountOpenLoansForBook returns how many Issued transactions reference the
// book.
func (s *SQLiteDB) CountOpenLoansForBook(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE book_id = ? AND status = ?`,
		bookID, models.StatusIssued).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open loans: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

const memberColumns = `id, first_name, last_name, email, COALESCE(phone,''), membership_number, created_at`

func scanMember(row interface{ Scan(...any) error }) (models.Member, error) {
	var m models.Member
	err := row.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone,
		&m.MembershipNumber, &m.CreatedAt)
	return m, err
}

// CreateMember inserts a new member, assigning the membership number from
// the counters table inside the same transaction so concurrent
// registrations never produce duplicates.
func (s *SQLiteDB) CreateMember(ctx context.Context, member models.Member) (models.Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to begin member insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE counters SET value = value + 1 WHERE name = 'membership'`); err != nil {
		return models.Member{}, fmt.Errorf("failed to advance membership sequence: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = 'membership'`).Scan(&seq); err != nil {
		return models.Member{}, fmt.Errorf("failed to read membership sequence: %w", err)
	}
	member.MembershipNumber = fmt.Sprintf("MEM%03d", seq)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO members (first_name, last_name, email, phone, membership_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		member.FirstName, member.LastName, member.Email, member.Phone,
		member.MembershipNumber, member.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: members.email") {
			return models.Member{}, storage.ErrDuplicateEmail
		}
		return models.Member{}, fmt.Errorf("failed to create member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to read member id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Member{}, fmt.Errorf("failed to commit member insert: %w", err)
	}
	member.ID = id
	return member, nil
}

// FindMemberByID looks a member up by id.
func (s *SQLiteDB) FindMemberByID(ctx context.Context, id int64) (models.Member, bool, error) {
	member, err := scanMember(s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.Member{}, false, nil
	}
	if err != nil {
		return models.Member{}, false, fmt.Errorf("failed to find member: %w", err)
	}
	return member, true, nil
}

// FindMemberByEmail looks a member up by email.
func (s *SQLiteDB) FindMemberByEmail(ctx context.Context, email string) (models.Member, bool, error) {
	member, err := scanMember(s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE email = ?`, email))
	if err == sql.ErrNoRows {
		return models.Member{}, false, nil
	}
	if err != nil {
		return models.Member{}, false, fmt.Errorf("failed to find member by email: %w", err)
	}
	return member, true, nil
}

// ListMembers returns all members ordered by last name.
func (s *SQLiteDB) ListMembers(ctx context.Context) ([]models.Member, error) {
	return s.queryMembers(ctx,
		`SELECT `+memberColumns+` FROM members ORDER BY last_name, first_name`)
}

// SearchMembers matches the term against names, email and membership number.
func (s *SQLiteDB) SearchMembers(ctx context.Context, term string) ([]models.Member, error) {
	if strings.TrimSpace(term) == "" {
		return s.ListMembers(ctx)
	}
	pattern := "%" + term + "%"
	return s.queryMembers(ctx, `
		SELECT `+memberColumns+` FROM members
		WHERE first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR membership_number LIKE ?
		ORDER BY last_name, first_name`,
		pattern, pattern, pattern, pattern)
}

func (s *SQLiteDB) queryMembers(ctx context.Context, query string, args ...any) ([]models.Member, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

const txColumns = `id, book_id, user_id, issue_date, due_date, return_date, status, fine_amount`

func scanTransaction(row interface{ Scan(...any) error }) (models.Transaction, error) {
	var t models.Transaction
	var returned sql.NullTime
	var status string
	err := row.Scan(&t.ID, &t.BookID, &t.UserID, &t.IssueDate, &t.DueDate,
		&returned, &status, &t.FineAmount)
	if err != nil {
		return models.Transaction{}, err
	}
	if returned.Valid {
		rt := returned.Time
		t.ReturnDate = &rt
	}
	t.Status = models.LoanStatus(status)
	return t, nil
}

// CreateLoan decrements the book's available copies and inserts the
// transaction in one database transaction. The guarded UPDATE is the
// compare-and-swap on the availability counter: of two concurrent issues
// racing for the last copy, exactly one sees a row change.
func (s *SQLiteDB) CreateLoan(ctx context.Context, loan models.Transaction) (models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to begin loan insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE books SET available_copies = available_copies - 1, updated_at = ?
		WHERE id = ? AND available_copies > 0`,
		loan.IssueDate, loan.BookID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to decrement available copies: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return models.Transaction{}, storage.ErrNoCopies
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (book_id, user_id, issue_date, due_date, status, fine_amount)
		VALUES (?, ?, ?, ?, ?, ?)`,
		loan.BookID, loan.UserID, loan.IssueDate, loan.DueDate, loan.Status, loan.FineAmount)
	if err != nil {
		// The partial unique index on open (book_id, user_id) pairs.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.Transaction{}, storage.ErrLoanAlreadyOpen
		}
		return models.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to read transaction id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to commit loan: %w", err)
	}
	loan.ID = id
	return loan, nil
}

// CloseLoan finalizes the transaction and increments the book's available
// copies in one database transaction. The status guard makes a second
// return of the same loan a no-op at the store level.
func (s *SQLiteDB) CloseLoan(ctx context.Context, loan models.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin loan close: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE transactions SET return_date = ?, status = ?, fine_amount = ?
		WHERE id = ? AND status = ?`,
		loan.ReturnDate, loan.Status, loan.FineAmount, loan.ID, models.StatusIssued)
	if err != nil {
		return fmt.Errorf("failed to close transaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrLoanNotOpen
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE books SET available_copies = available_copies + 1, updated_at = ?
		WHERE id = ?`,
		loan.ReturnDate, loan.BookID); err != nil {
		return fmt.Errorf("failed to increment available copies: %w", err)
	}
	return tx.Commit()
}

// FindTransactionByID looks a transaction up by id.
func (s *SQLiteDB) FindTransactionByID(ctx context.Context, id int64) (models.Transaction, bool, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, fmt.Errorf("failed to find transaction: %w", err)
	}
	return t, true, nil
}

// HasOpenLoan reports whether the member currently holds the book.
func (s *SQLiteDB) HasOpenLoan(ctx context.Context, bookID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM transactions
			WHERE book_id = ? AND user_id = ? AND status = ?)`,
		bookID, userID, models.StatusIssued).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open loan: %w", err)
	}
	return exists, nil
}

// ListTransactions returns all transactions, most recently issued first.
func (s *SQLiteDB) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions ORDER BY issue_date DESC, id DESC`)
}

// ListTransactionsForUser returns the member's transactions, most recently
// issued first.
func (s *SQLiteDB) ListTransactionsForUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE user_id = ? ORDER BY issue_date DESC, id DESC`, userID)
}

// ListOverdueTransactions returns Issued transactions due before asOf,
// longest overdue first.
func (s *SQLiteDB) ListOverdueTransactions(ctx context.Context, asOf time.Time) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = ? AND due_date < ? ORDER BY due_date ASC, id ASC`,
		models.StatusIssued, asOf)
}

func (s *SQLiteDB) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ---------------------------------------------------------------------------
// Counts
// ---------------------------------------------------------------------------

func (s *SQLiteDB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// CountBooks returns the number of catalog records.
func (s *SQLiteDB) CountBooks(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM books`)
}

// CountMembers returns the number of registered members.
func (s *SQLiteDB) CountMembers(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM members`)
}

// CountIssued returns the number of currently open loans.
func (s *SQLiteDB) CountIssued(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM transactions WHERE status = ?`, models.StatusIssued)
}

// CountRecordedOverdue returns the number of loans that were returned late.
func (s *SQLiteDB) CountRecordedOverdue(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM transactions WHERE status = ?`, models.StatusOverdue)
}
