package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// Service is the lending ledger: the single authority that creates and
// closes loan transactions and keeps each book's available-copy count
// consistent with its outstanding loans. All writers to the availability
// counter go through Issue and Return; the catalog's total-copies edit path
// recomputes the counter with the same formula instead of touching it
// directly.
type Service struct {
	db     storage.Storage
	logger *zap.Logger

	loanPeriodDays int
	finePerDay     int64

	now func() time.Time
}

// New creates a lending ledger over the given store. A non-positive
// loanPeriodDays or a negative finePerDay falls back to the defaults
// (14 days, 10 per day); a finePerDay of zero is honored and means
// lending is free.
func New(db storage.Storage, loanPeriodDays int, finePerDay int64, logger *zap.Logger) *Service {
	if loanPeriodDays <= 0 {
		loanPeriodDays = DefaultLoanPeriodDays
	}
	if finePerDay < 0 {
		finePerDay = DefaultFinePerDay
	}
	return &Service{
		db:             db,
		logger:         logger,
		loanPeriodDays: loanPeriodDays,
		finePerDay:     finePerDay,
		now:            time.Now,
	}
}

// Issue lends one copy of the book to the member and returns the created
// transaction, due in the configured loan period.
//
// Preconditions are checked in a fixed order, each with its own failure:
// the book exists, a copy is available, the member exists, and the member
// does not already hold this book. The decrement of the availability
// counter and the transaction insert commit as one atomic unit in the
// store; a concurrent issue that grabs the last copy first surfaces here
// as ErrNoCopiesAvailable.
func (s *Service) Issue(ctx context.Context, bookID, userID int64) (models.Transaction, error) {
	book, found, err := s.db.FindBookByID(ctx, bookID)
	if err != nil {
		return models.Transaction{}, s.storeFailure("issue", err)
	}
	if !found {
		return models.Transaction{}, ErrBookNotFound
	}
	if book.AvailableCopies <= 0 {
		return models.Transaction{}, ErrNoCopiesAvailable
	}

	_, found, err = s.db.FindMemberByID(ctx, userID)
	if err != nil {
		return models.Transaction{}, s.storeFailure("issue", err)
	}
	if !found {
		return models.Transaction{}, ErrMemberNotFound
	}

	open, err := s.db.HasOpenLoan(ctx, bookID, userID)
	if err != nil {
		return models.Transaction{}, s.storeFailure("issue", err)
	}
	if open {
		return models.Transaction{}, ErrAlreadyIssued
	}

	now := s.now()
	loan := models.Transaction{
		BookID:    bookID,
		UserID:    userID,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, s.loanPeriodDays),
		Status:    models.StatusIssued,
	}

	created, err := s.db.CreateLoan(ctx, loan)
	switch {
	case errors.Is(err, storage.ErrNoCopies):
		// Lost the race for the last copy.
		return models.Transaction{}, ErrNoCopiesAvailable
	case errors.Is(err, storage.ErrLoanAlreadyOpen):
		return models.Transaction{}, ErrAlreadyIssued
	case err != nil:
		return models.Transaction{}, s.storeFailure("issue", err)
	}

	s.logger.Info("Book issued",
		zap.Int64("transaction_id", created.ID),
		zap.Int64("book_id", bookID),
		zap.Int64("user_id", userID),
		zap.Time("due_date", created.DueDate),
	)
	return created, nil
}

// Return closes the transaction: it sets the return date, computes the
// fine, finalizes the status (Returned on time, Overdue when late) and
// releases the copy back to the book's availability counter, all
// as one atomic unit in the store. Returning an already-closed transaction
// fails with ErrAlreadyReturned and changes nothing.
func (s *Service) Return(ctx context.Context, transactionID int64) (models.Transaction, error) {
	loan, found, err := s.db.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, s.storeFailure("return", err)
	}
	if !found {
		return models.Transaction{}, ErrTransactionNotFound
	}
	if loan.Status != models.StatusIssued {
		return models.Transaction{}, ErrAlreadyReturned
	}

	// Book deletion is blocked while a loan is open, so a miss here means
	// the store is inconsistent. Checked anyway.
	_, found, err = s.db.FindBookByID(ctx, loan.BookID)
	if err != nil {
		return models.Transaction{}, s.storeFailure("return", err)
	}
	if !found {
		return models.Transaction{}, ErrBookNotFound
	}

	now := s.now()
	loan.ReturnDate = &now
	loan.FineAmount = Fine(loan.DueDate, now, s.finePerDay)
	// The status follows the clock, not the fine: a late return under a
	// zero fine rate (or within the first partial day) is still Overdue.
	if now.After(loan.DueDate) {
		loan.Status = models.StatusOverdue
	} else {
		loan.Status = models.StatusReturned
	}

	if err := s.db.CloseLoan(ctx, loan); err != nil {
		if errors.Is(err, storage.ErrLoanNotOpen) {
			// A concurrent return got there first.
			return models.Transaction{}, ErrAlreadyReturned
		}
		return models.Transaction{}, s.storeFailure("return", err)
	}

	s.logger.Info("Book returned",
		zap.Int64("transaction_id", loan.ID),
		zap.Int64("book_id", loan.BookID),
		zap.String("status", string(loan.Status)),
		zap.Int64("fine_amount", loan.FineAmount),
	)
	return loan, nil
}

// ListOverdue returns the Issued transactions whose due date has passed as
// of asOf (the current time when asOf is zero), longest overdue first.
//
// This is a derived classification only: the persisted status stays Issued
// until the loan is actually returned, at which point Return finalizes it
// as Overdue. No timer promotes loans eagerly.
func (s *Service) ListOverdue(ctx context.Context, asOf time.Time) ([]models.Transaction, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	txs, err := s.db.ListOverdueTransactions(ctx, asOf)
	if err != nil {
		return nil, s.storeFailure("list overdue", err)
	}
	return txs, nil
}

// ListForUser returns the member's lending history, most recent first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]models.Transaction, error) {
	txs, err := s.db.ListTransactionsForUser(ctx, userID)
	if err != nil {
		return nil, s.storeFailure("list for user", err)
	}
	return txs, nil
}

// ListAll returns the full lending history, most recent first.
func (s *Service) ListAll(ctx context.Context) ([]models.Transaction, error) {
	txs, err := s.db.ListTransactions(ctx)
	if err != nil {
		return nil, s.storeFailure("list all", err)
	}
	return txs, nil
}

// GetByID looks a transaction up by id, reporting absence via the found
// flag.
func (s *Service) GetByID(ctx context.Context, transactionID int64) (models.Transaction, bool, error) {
	loan, found, err := s.db.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, false, s.storeFailure("get by id", err)
	}
	return loan, found, nil
}

// CountIssued returns the number of currently open loans.
func (s *Service) CountIssued(ctx context.Context) (int, error) {
	n, err := s.db.CountIssued(ctx)
	if err != nil {
		return 0, s.storeFailure("count issued", err)
	}
	return n, nil
}

// storeFailure logs and wraps an underlying persistence error. The ledger
// never retries these: the store's atomic units roll back cleanly, and a
// blind retry of an availability mutation could double-count.
func (s *Service) storeFailure(op string, err error) error {
	s.logger.Error("Ledger store failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("lending ledger %s: %w", op, err)
}
