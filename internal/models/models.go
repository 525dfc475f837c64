package models

import "time"

// LoanStatus is the lifecycle state of a loan transaction.
// A transaction starts Issued and transitions exactly once, to either
// Returned (on time) or Overdue (returned late). There is no way back.
type LoanStatus string

const (
	StatusIssued   LoanStatus = "Issued"
	StatusReturned LoanStatus = "Returned"
	StatusOverdue  LoanStatus = "Overdue"
)

// Valid reports whether s is one of the three known statuses.
func (s LoanStatus) Valid() bool {
	switch s {
	case StatusIssued, StatusReturned, StatusOverdue:
		return true
	}
	return false
}

// Closed reports whether the loan has been finalized. A closed transaction
// always carries a return date, an open one never does.
func (s LoanStatus) Closed() bool {
	return s == StatusReturned || s == StatusOverdue
}

// Book represents a title in the catalog together with its copy inventory.
// AvailableCopies is the only correctness-critical mutable counter in the
// system: 0 <= AvailableCopies <= TotalCopies, and TotalCopies minus
// AvailableCopies always equals the number of currently issued loans.
type Book struct {
	ID              int64     `json:"id"`
	ISBN            string    `json:"isbn"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Publisher       string    `json:"publisher,omitempty"`
	PublishedYear   int       `json:"published_year,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IssuedCopies returns how many copies are currently out on loan.
func (b Book) IssuedCopies() int {
	return b.TotalCopies - b.AvailableCopies
}

// Member represents a registered library member. Members are never mutated
// or deleted by the lending ledger.
type Member struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	MembershipNumber string    `json:"membership_number"`
	CreatedAt        time.Time `json:"created_at"`
}

// Transaction is one loan: a book held by a member for a period. It
// references Book and Member by id only and is never deleted, forming an
// append-only audit trail of lending history.
type Transaction struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	UserID     int64      `json:"user_id"`
	IssueDate  time.Time  `json:"issue_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     LoanStatus `json:"status"`
	FineAmount int64      `json:"fine_amount"`
}
