package storage

import (
	"context"
	"errors"
	"time"

	"librarian/internal/models"
)

// Errors returned by Storage implementations for business-rule guard
// failures. Anything else coming out of a Storage method is a plain store
// failure and is wrapped, not matched.
var (
	// ErrNoCopies is returned by CreateLoan when the book's available-copy
	// counter is already zero at commit time.
	ErrNoCopies = errors.New("storage: no copies available")

	// ErrLoanAlreadyOpen is returned by CreateLoan when the member already
	// holds an open loan for the same book.
	ErrLoanAlreadyOpen = errors.New("storage: loan already open for this book and member")

	// ErrLoanNotOpen is returned by CloseLoan when the transaction is not
	// in the Issued state anymore.
	ErrLoanNotOpen = errors.New("storage: loan is not open")

	// ErrDuplicateISBN is returned by CreateBook for an ISBN that already
	// exists in the catalog.
	ErrDuplicateISBN = errors.New("storage: duplicate ISBN")

	// ErrDuplicateEmail is returned by CreateMember for an email that is
	// already registered.
	ErrDuplicateEmail = errors.New("storage: duplicate email")

	// ErrBookOnLoan is returned by DeleteBook while an open loan still
	// references the book.
	ErrBookOnLoan = errors.New("storage: book has open loans")
)

// Storage defines the interface for data storage operations.
//
// Lookups return a found flag instead of an error on miss. CreateLoan and
// CloseLoan are the transactional-write primitives of the lending ledger:
// each one mutates the book's available-copy counter and the transaction
// row together or not at all.
type Storage interface {
	// Book operations
	CreateBook(ctx context.Context, book models.Book) (models.Book, error)
	FindBookByID(ctx context.Context, id int64) (models.Book, bool, error)
	FindBookByISBN(ctx context.Context, isbn string) (models.Book, bool, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	SearchBooks(ctx context.Context, term string) ([]models.Book, error)

	// UpdateBook persists book attributes and recomputes the available-copy
	// count as max(0, total - open loans) in the same atomic unit, so a
	// concurrent issue or return is never overwritten. The caller's
	// AvailableCopies value is ignored. Returns the book as written.
	UpdateBook(ctx context.Context, book models.Book) (models.Book, error)

	// DeleteBook removes a book, failing with ErrBookOnLoan while any
	// Issued transaction still references it.
	DeleteBook(ctx context.Context, id int64) error

	// CountOpenLoansForBook returns how many Issued transactions reference
	// the book.
	CountOpenLoansForBook(ctx context.Context, bookID int64) (int, error)

	// Member operations
	//
	// CreateMember assigns the membership number from a dedicated atomic
	// sequence; the caller leaves the field empty.
	CreateMember(ctx context.Context, member models.Member) (models.Member, error)
	FindMemberByID(ctx context.Context, id int64) (models.Member, bool, error)
	FindMemberByEmail(ctx context.Context, email string) (models.Member, bool, error)
	ListMembers(ctx context.Context) ([]models.Member, error)
	SearchMembers(ctx context.Context, term string) ([]models.Member, error)

	// Loan operations
	//
	// CreateLoan decrements the book's available copies and inserts the
	// transaction as one atomic unit. It fails with ErrNoCopies when the
	// counter is zero and with ErrLoanAlreadyOpen when the member already
	// has this book out.
	CreateLoan(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	// CloseLoan writes the transaction's return date, status and fine, and
	// increments the book's available copies, as one atomic unit. It fails
	// with ErrLoanNotOpen when the transaction is no longer Issued.
	CloseLoan(ctx context.Context, tx models.Transaction) error

	FindTransactionByID(ctx context.Context, id int64) (models.Transaction, bool, error)
	HasOpenLoan(ctx context.Context, bookID, userID int64) (bool, error)

	// ListTransactions returns all transactions, most recently issued first.
	ListTransactions(ctx context.Context) ([]models.Transaction, error)

	// ListTransactionsForUser returns the member's transactions, most
	// recently issued first.
	ListTransactionsForUser(ctx context.Context, userID int64) ([]models.Transaction, error)

	// ListOverdueTransactions returns Issued transactions with a due date
	// before asOf, ordered by due date ascending so the longest-standing
	// overdue loans come first.
	ListOverdueTransactions(ctx context.Context, asOf time.Time) ([]models.Transaction, error)

	// Counts for the dashboard
	CountBooks(ctx context.Context) (int, error)
	CountMembers(ctx context.Context) (int, error)
	CountIssued(ctx context.Context) (int, error)
	CountRecordedOverdue(ctx context.Context) (int, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
