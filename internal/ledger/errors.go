package ledger

import "errors"

// Caller-visible failures of the lending ledger. Every operation returns
// either a value or exactly one of these (or a wrapped store failure);
// nothing is swallowed.
var (
	// Not-found failures. Never retried.
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// Business-rule conflicts. Surfaced to the user, not retried.
	ErrNoCopiesAvailable = errors.New("no copies available for issue")
	ErrAlreadyIssued     = errors.New("member has already issued this book")
	ErrAlreadyReturned   = errors.New("book is already returned")
)
