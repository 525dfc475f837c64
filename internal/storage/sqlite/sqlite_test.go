package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// applyTestSchema mirrors the goose migrations for tests, which run
// against a throwaway database file.
func applyTestSchema(t *testing.T, db *SQLiteDB) {
	t.Helper()

	stmts := []string{
		`CREATE TABLE books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			isbn TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			publisher TEXT,
			published_year INTEGER,
			genre TEXT,
			total_copies INTEGER NOT NULL CHECK (total_copies >= 1),
			available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE members (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone TEXT,
			membership_number TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE counters (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`INSERT INTO counters (name, value) VALUES ('membership', 0);`,
		`CREATE TABLE transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			book_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			issue_date DATETIME NOT NULL,
			due_date DATETIME NOT NULL,
			return_date DATETIME,
			status TEXT NOT NULL CHECK (status IN ('Issued', 'Returned', 'Overdue')),
			fine_amount INTEGER NOT NULL DEFAULT 0 CHECK (fine_amount >= 0)
		);`,
		`CREATE UNIQUE INDEX idx_transactions_open_loan
			ON transactions (book_id, user_id) WHERE status = 'Issued';`,
		`CREATE INDEX idx_transactions_status_due ON transactions (status, due_date);`,
	}
	for _, stmt := range stmts {
		_, err := db.DB().Exec(stmt)
		require.NoError(t, err, "failed to apply test schema")
	}
}

func setupTestDB(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applyTestSchema(t, db)
	return db
}

var testTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func createBook(t *testing.T, db *SQLiteDB, isbn string, copies int) models.Book {
	t.Helper()

	book, err := db.CreateBook(context.Background(), models.Book{
		ISBN:            isbn,
		Title:           "Title " + isbn,
		Author:          "Author",
		TotalCopies:     copies,
		AvailableCopies: copies,
		CreatedAt:       testTime,
		UpdatedAt:       testTime,
	})
	require.NoError(t, err)
	return book
}

func createMember(t *testing.T, db *SQLiteDB, email string) models.Member {
	t.Helper()

	member, err := db.CreateMember(context.Background(), models.Member{
		FirstName: "First",
		LastName:  "Last",
		Email:     email,
		CreatedAt: testTime,
	})
	require.NoError(t, err)
	return member
}

func createLoan(t *testing.T, db *SQLiteDB, bookID, userID int64, issued time.Time) models.Transaction {
	t.Helper()

	loan, err := db.CreateLoan(context.Background(), models.Transaction{
		BookID:    bookID,
		UserID:    userID,
		IssueDate: issued,
		DueDate:   issued.AddDate(0, 0, 14),
		Status:    models.StatusIssued,
	})
	require.NoError(t, err)
	return loan
}

func TestBookRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "978-0-1340-1928-3", 3)
	require.NotZero(t, book.ID)

	got, found, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, book.ISBN, got.ISBN)
	assert.Equal(t, 3, got.TotalCopies)
	assert.Equal(t, 3, got.AvailableCopies)

	byISBN, found, err := db.FindBookByISBN(ctx, book.ISBN)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, book.ID, byISBN.ID)

	_, found, err = db.FindBookByID(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found, "a miss reports absence, not an error")
}

func TestCreateBookDuplicateISBN(t *testing.T) {
	db := setupTestDB(t)

	createBook(t, db, "isbn-1", 1)

	_, err := db.CreateBook(context.Background(), models.Book{
		ISBN: "isbn-1", Title: "Other", Author: "Author",
		TotalCopies: 1, AvailableCopies: 1,
		CreatedAt: testTime, UpdatedAt: testTime,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateISBN)
}

func TestSearchBooks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateBook(ctx, models.Book{
		ISBN: "isbn-1", Title: "The Go Programming Language", Author: "Donovan",
		Genre: "Programming", TotalCopies: 1, AvailableCopies: 1,
		CreatedAt: testTime, UpdatedAt: testTime,
	})
	require.NoError(t, err)
	_, err = db.CreateBook(ctx, models.Book{
		ISBN: "isbn-2", Title: "Dune", Author: "Herbert",
		TotalCopies: 1, AvailableCopies: 1,
		CreatedAt: testTime, UpdatedAt: testTime,
	})
	require.NoError(t, err)

	results, err := db.SearchBooks(ctx, "Donovan")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "isbn-1", results[0].ISBN)

	all, err := db.SearchBooks(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 2, "blank term lists the whole catalog")
}

func TestMembershipSequence(t *testing.T) {
	db := setupTestDB(t)

	first := createMember(t, db, "a@example.com")
	second := createMember(t, db, "b@example.com")

	assert.Equal(t, "MEM001", first.MembershipNumber)
	assert.Equal(t, "MEM002", second.MembershipNumber)

	_, err := db.CreateMember(context.Background(), models.Member{
		FirstName: "Dup", LastName: "Email", Email: "a@example.com",
		CreatedAt: testTime,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)

	// The failed insert must not burn a visible number gap for the next
	// successful one beyond the aborted transaction's rollback.
	third := createMember(t, db, "c@example.com")
	assert.Equal(t, "MEM003", third.MembershipNumber)
}

func TestCreateLoanAtomicity(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 1)
	first := createMember(t, db, "a@example.com")
	second := createMember(t, db, "b@example.com")

	createLoan(t, db, book.ID, first.ID, testTime)

	after, _, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.AvailableCopies)

	// Counter exhausted: the guarded decrement must refuse.
	_, err = db.CreateLoan(ctx, models.Transaction{
		BookID: book.ID, UserID: second.ID,
		IssueDate: testTime, DueDate: testTime.AddDate(0, 0, 14),
		Status: models.StatusIssued,
	})
	assert.ErrorIs(t, err, storage.ErrNoCopies)

	// The refused loan must not leave a transaction row behind.
	open, err := db.CountOpenLoansForBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestCreateLoanDuplicateOpenLoan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 5)
	member := createMember(t, db, "a@example.com")

	createLoan(t, db, book.ID, member.ID, testTime)

	_, err := db.CreateLoan(ctx, models.Transaction{
		BookID: book.ID, UserID: member.ID,
		IssueDate: testTime, DueDate: testTime.AddDate(0, 0, 14),
		Status: models.StatusIssued,
	})
	assert.ErrorIs(t, err, storage.ErrLoanAlreadyOpen)

	// The rejected insert must roll back its decrement.
	after, _, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.AvailableCopies)
}

func TestCloseLoan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 1)
	member := createMember(t, db, "a@example.com")
	loan := createLoan(t, db, book.ID, member.ID, testTime)

	returned := testTime.AddDate(0, 0, 20)
	loan.ReturnDate = &returned
	loan.Status = models.StatusOverdue
	loan.FineAmount = 60

	require.NoError(t, db.CloseLoan(ctx, loan))

	stored, found, err := db.FindTransactionByID(ctx, loan.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusOverdue, stored.Status)
	assert.Equal(t, int64(60), stored.FineAmount)
	require.NotNil(t, stored.ReturnDate)
	assert.True(t, stored.ReturnDate.Equal(returned))

	after, _, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.AvailableCopies)

	// Second close hits the status guard.
	err = db.CloseLoan(ctx, loan)
	assert.ErrorIs(t, err, storage.ErrLoanNotOpen)

	after, _, err = db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.AvailableCopies, "a rejected close must not release another copy")
}

func TestDeleteBookBlockedWhileOnLoan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 1)
	member := createMember(t, db, "a@example.com")
	loan := createLoan(t, db, book.ID, member.ID, testTime)

	err := db.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, storage.ErrBookOnLoan)

	returned := testTime.AddDate(0, 0, 1)
	loan.ReturnDate = &returned
	loan.Status = models.StatusReturned
	require.NoError(t, db.CloseLoan(ctx, loan))

	require.NoError(t, db.DeleteBook(ctx, book.ID),
		"closed lending history must not block deletion")

	_, found, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, found)

	// The audit trail survives the book.
	stored, found, err := db.FindTransactionByID(ctx, loan.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, book.ID, stored.BookID)
	assert.Equal(t, models.StatusReturned, stored.Status)
}

func TestListOverdueTransactionsOrdering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	member := createMember(t, db, "a@example.com")

	// Issued out of order so the ORDER BY is exercised.
	second := createBook(t, db, "isbn-2", 1)
	first := createBook(t, db, "isbn-1", 1)
	createLoan(t, db, second.ID, member.ID, testTime.AddDate(0, 0, 3))
	firstLoan := createLoan(t, db, first.ID, member.ID, testTime)

	overdue, err := db.ListOverdueTransactions(ctx, testTime.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, overdue, 1, "only the loan past its due date is overdue")
	assert.Equal(t, firstLoan.ID, overdue[0].ID)

	overdue, err = db.ListOverdueTransactions(ctx, testTime.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, firstLoan.ID, overdue[0].ID, "longest overdue first")
}

func TestListTransactionsForUserOrdering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	member := createMember(t, db, "a@example.com")
	other := createMember(t, db, "b@example.com")
	book1 := createBook(t, db, "isbn-1", 1)
	book2 := createBook(t, db, "isbn-2", 2)

	older := createLoan(t, db, book1.ID, member.ID, testTime)
	newer := createLoan(t, db, book2.ID, member.ID, testTime.AddDate(0, 0, 2))
	createLoan(t, db, book2.ID, other.ID, testTime.AddDate(0, 0, 1))

	history, err := db.ListTransactionsForUser(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newer.ID, history[0].ID, "most recent first")
	assert.Equal(t, older.ID, history[1].ID)
}

func TestCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 2)
	member := createMember(t, db, "a@example.com")
	other := createMember(t, db, "b@example.com")

	loan := createLoan(t, db, book.ID, member.ID, testTime)
	createLoan(t, db, book.ID, other.ID, testTime)

	books, err := db.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, books)

	membersCount, err := db.CountMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, membersCount)

	issued, err := db.CountIssued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, issued)

	returned := testTime.AddDate(0, 0, 20)
	loan.ReturnDate = &returned
	loan.Status = models.StatusOverdue
	loan.FineAmount = 60
	require.NoError(t, db.CloseLoan(ctx, loan))

	issued, err = db.CountIssued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, issued)

	overdue, err := db.CountRecordedOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, overdue)
}

func TestUpdateBook(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 2)

	book.Title = "Renamed"
	book.TotalCopies = 4
	book.UpdatedAt = testTime.AddDate(0, 0, 1)
	updated, err := db.UpdateBook(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.AvailableCopies)

	got, found, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, 4, got.TotalCopies)
	assert.Equal(t, 4, got.AvailableCopies)
}

func TestUpdateBookRecomputesFromOpenLoans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	book := createBook(t, db, "isbn-1", 3)
	member := createMember(t, db, "a@example.com")
	createLoan(t, db, book.ID, member.ID, testTime)

	// A stale caller-supplied counter must not clobber the loan's
	// decrement: the count and the write share one transaction.
	book.TotalCopies = 5
	book.AvailableCopies = 99
	book.UpdatedAt = testTime.AddDate(0, 0, 1)
	updated, err := db.UpdateBook(ctx, book)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.AvailableCopies)

	got, _, err := db.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.AvailableCopies)

	// Shrinking below the open-loan count clamps at zero.
	got.TotalCopies = 1
	updated, err = db.UpdateBook(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCopies)
}
