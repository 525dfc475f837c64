package stubs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for
// testing and local development. A single mutex serializes every mutation,
// which gives CreateLoan and CloseLoan the same all-or-nothing behavior the
// SQLite store gets from its transactions.
type MockDB struct {
	mu sync.RWMutex

	books        map[int64]models.Book
	members      map[int64]models.Member
	transactions map[int64]models.Transaction

	nextBookID    int64
	nextMemberID  int64
	nextTxID      int64
	membershipSeq int64
}

// NewMockDB creates a new mock database.
func NewMockDB() *MockDB {
	return &MockDB{
		books:        make(map[int64]models.Book),
		members:      make(map[int64]models.Member),
		transactions: make(map[int64]models.Transaction),
	}
}

// Initialize does nothing for the mock DB.
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Close does nothing for the mock DB.
func (m *MockDB) Close() error {
	return nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// CreateBook inserts a new book and returns it with its assigned id.
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.books {
		if b.ISBN == book.ISBN {
			return models.Book{}, storage.ErrDuplicateISBN
		}
	}

	m.nextBookID++
	book.ID = m.nextBookID
	m.books[book.ID] = book
	return book, nil
}

// FindBookByID looks a book up by id.
func (m *MockDB) FindBookByID(ctx context.Context, id int64) (models.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	return book, ok, nil
}

// FindBookByISBN looks a book up by its ISBN.
func (m *MockDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.books {
		if b.ISBN == isbn {
			return b, true, nil
		}
	}
	return models.Book{}, false, nil
}

// ListBooks returns the whole catalog ordered by title.
func (m *MockDB) ListBooks(ctx context.Context) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var books []models.Book
	for _, b := range m.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].Title < books[j].Title
	})
	return books, nil
}

// SearchBooks matches the term against title, author, ISBN, genre and
// publisher, case-insensitively.
func (m *MockDB) SearchBooks(ctx context.Context, term string) ([]models.Book, error) {
	if strings.TrimSpace(term) == "" {
		return m.ListBooks(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(term)
	var books []models.Book
	for _, b := range m.books {
		haystack := strings.ToLower(strings.Join([]string{
			b.Title, b.Author, b.ISBN, b.Genre, b.Publisher,
		}, "\n"))
		if strings.Contains(haystack, needle) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].Title < books[j].Title
	})
	return books, nil
}

// UpdateBook persists book attributes, recomputing the available-copy
// count from the open-loan count under the same lock acquisition.
func (m *MockDB) UpdateBook(ctx context.Context, book models.Book) (models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[book.ID]; !ok {
		return models.Book{}, fmt.Errorf("book %d does not exist", book.ID)
	}
	for _, b := range m.books {
		if b.ISBN == book.ISBN && b.ID != book.ID {
			return models.Book{}, storage.ErrDuplicateISBN
		}
	}

	open := 0
	for _, t := range m.transactions {
		if t.BookID == book.ID && t.Status == models.StatusIssued {
			open++
		}
	}
	book.AvailableCopies = book.TotalCopies - open
	if book.AvailableCopies < 0 {
		book.AvailableCopies = 0
	}

	m.books[book.ID] = book
	return book, nil
}

// DeleteBook removes a book unless an open loan still references it.
func (m *MockDB) DeleteBook(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.transactions {
		if t.BookID == id && t.Status == models.StatusIssued {
			return storage.ErrBookOnLoan
		}
	}
	delete(m.books, id)
	return nil
}

// CountOpenLoansForBook returns how many Issued transactions reference the
// book.
func (m *MockDB) CountOpenLoansForBook(ctx context.Context, bookID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.transactions {
		if t.BookID == bookID && t.Status == models.StatusIssued {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// CreateMember inserts a new member with a sequential membership number.
func (m *MockDB) CreateMember(ctx context.Context, member models.Member) (models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.members {
		if existing.Email == member.Email {
			return models.Member{}, storage.ErrDuplicateEmail
		}
	}

	m.membershipSeq++
	member.MembershipNumber = fmt.Sprintf("MEM%03d", m.membershipSeq)

	m.nextMemberID++
	member.ID = m.nextMemberID
	m.members[member.ID] = member
	return member, nil
}

// FindMemberByID looks a member up by id.
func (m *MockDB) FindMemberByID(ctx context.Context, id int64) (models.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	return member, ok, nil
}

// FindMemberByEmail looks a member up by email.
func (m *MockDB) FindMemberByEmail(ctx context.Context, email string) (models.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, member := range m.members {
		if member.Email == email {
			return member, true, nil
		}
	}
	return models.Member{}, false, nil
}

// ListMembers returns all members ordered by last name.
func (m *MockDB) ListMembers(ctx context.Context) ([]models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []models.Member
	for _, member := range m.members {
		members = append(members, member)
	}
	sortMembers(members)
	return members, nil
}

// SearchMembers matches the term against names, email and membership
// number, case-insensitively.
func (m *MockDB) SearchMembers(ctx context.Context, term string) ([]models.Member, error) {
	if strings.TrimSpace(term) == "" {
		return m.ListMembers(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(term)
	var members []models.Member
	for _, member := range m.members {
		haystack := strings.ToLower(strings.Join([]string{
			member.FirstName, member.LastName, member.Email, member.MembershipNumber,
		}, "\n"))
		if strings.Contains(haystack, needle) {
			members = append(members, member)
		}
	}
	sortMembers(members)
	return members, nil
}

func sortMembers(members []models.Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].LastName != members[j].LastName {
			return members[i].LastName < members[j].LastName
		}
		return members[i].FirstName < members[j].FirstName
	})
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

// CreateLoan decrements the book's available copies and inserts the
// transaction under one lock acquisition.
func (m *MockDB) CreateLoan(ctx context.Context, loan models.Transaction) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[loan.BookID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("book %d does not exist", loan.BookID)
	}
	if book.AvailableCopies <= 0 {
		return models.Transaction{}, storage.ErrNoCopies
	}
	for _, t := range m.transactions {
		if t.BookID == loan.BookID && t.UserID == loan.UserID && t.Status == models.StatusIssued {
			return models.Transaction{}, storage.ErrLoanAlreadyOpen
		}
	}

	book.AvailableCopies--
	book.UpdatedAt = loan.IssueDate
	m.books[book.ID] = book

	m.nextTxID++
	loan.ID = m.nextTxID
	m.transactions[loan.ID] = loan
	return loan, nil
}

// CloseLoan finalizes the transaction and increments the book's available
// copies under one lock acquisition.
func (m *MockDB) CloseLoan(ctx context.Context, loan models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.transactions[loan.ID]
	if !ok || current.Status != models.StatusIssued {
		return storage.ErrLoanNotOpen
	}

	m.transactions[loan.ID] = loan

	if book, ok := m.books[loan.BookID]; ok {
		book.AvailableCopies++
		if loan.ReturnDate != nil {
			book.UpdatedAt = *loan.ReturnDate
		}
		m.books[book.ID] = book
	}
	return nil
}

// FindTransactionByID looks a transaction up by id.
func (m *MockDB) FindTransactionByID(ctx context.Context, id int64) (models.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	return t, ok, nil
}

// HasOpenLoan reports whether the member currently holds the book.
func (m *MockDB) HasOpenLoan(ctx context.Context, bookID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.transactions {
		if t.BookID == bookID && t.UserID == userID && t.Status == models.StatusIssued {
			return true, nil
		}
	}
	return false, nil
}

// ListTransactions returns all transactions, most recently issued first.
func (m *MockDB) ListTransactions(ctx context.Context) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []models.Transaction
	for _, t := range m.transactions {
		txs = append(txs, t)
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].IssueDate.Equal(txs[j].IssueDate) {
			return txs[i].IssueDate.After(txs[j].IssueDate)
		}
		return txs[i].ID > txs[j].ID
	})
	return txs, nil
}

// ListTransactionsForUser returns the member's transactions, most recently
// issued first.
func (m *MockDB) ListTransactionsForUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	all, err := m.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	var txs []models.Transaction
	for _, t := range all {
		if t.UserID == userID {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

// ListOverdueTransactions returns Issued transactions due before asOf,
// longest overdue first.
func (m *MockDB) ListOverdueTransactions(ctx context.Context, asOf time.Time) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []models.Transaction
	for _, t := range m.transactions {
		if t.Status == models.StatusIssued && t.DueDate.Before(asOf) {
			txs = append(txs, t)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].DueDate.Equal(txs[j].DueDate) {
			return txs[i].DueDate.Before(txs[j].DueDate)
		}
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

// ---------------------------------------------------------------------------
// Counts
// ---------------------------------------------------------------------------

// CountBooks returns the number of catalog records.
func (m *MockDB) CountBooks(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.books), nil
}

// CountMembers returns the number of registered members.
func (m *MockDB) CountMembers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members), nil
}

// CountIssued returns the number of currently open loans.
func (m *MockDB) CountIssued(ctx context.Context) (int, error) {
	return m.countByStatus(models.StatusIssued), nil
}

// CountRecordedOverdue returns the number of loans that were returned late.
func (m *MockDB) CountRecordedOverdue(ctx context.Context) (int, error) {
	return m.countByStatus(models.StatusOverdue), nil
}

func (m *MockDB) countByStatus(status models.LoanStatus) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.transactions {
		if t.Status == status {
			n++
		}
	}
	return n
}
