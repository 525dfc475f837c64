package ledger

import "time"

// Defaults preserved from the original lending rules.
const (
	DefaultLoanPeriodDays = 14
	DefaultFinePerDay     = 10
)

// Fine computes the fine owed for a loan due at due and returned at
// returned, at perDay currency units per whole day late. Returning on or
// before the due date costs nothing; partial days are truncated, never
// rounded up.
func Fine(due, returned time.Time, perDay int64) int64 {
	if !returned.After(due) {
		return 0
	}
	overdueDays := int64(returned.Sub(due) / (24 * time.Hour))
	return overdueDays * perDay
}
