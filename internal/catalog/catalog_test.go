package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"librarian/internal/models"
	"librarian/internal/storage/stubs"
)

var testStart = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T) (*Service, *stubs.MockDB) {
	t.Helper()

	db := stubs.NewMockDB()
	svc := New(db, zap.NewNop())
	svc.now = func() time.Time { return testStart }
	return svc, db
}

func validBook(isbn string, copies int) models.Book {
	return models.Book{
		ISBN:          isbn,
		Title:         "Title " + isbn,
		Author:        "Author",
		Publisher:     "Publisher",
		PublishedYear: 2001,
		Genre:         "Fiction",
		TotalCopies:   copies,
	}
}

func TestAddBook(t *testing.T) {
	svc, _ := newTestCatalog(t)

	created, err := svc.AddBook(context.Background(), validBook("isbn-1", 3))
	require.NoError(t, err)

	assert.NotZero(t, created.ID)
	assert.Equal(t, 3, created.TotalCopies)
	assert.Equal(t, 3, created.AvailableCopies, "every copy starts available")
	assert.Equal(t, testStart, created.CreatedAt)
	assert.Equal(t, testStart, created.UpdatedAt)
}

func TestAddBookDuplicateISBN(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := svc.AddBook(ctx, validBook("isbn-1", 1))
	require.NoError(t, err)

	_, err = svc.AddBook(ctx, validBook("isbn-1", 2))
	assert.ErrorIs(t, err, ErrDuplicateISBN)
}

func TestAddBookValidation(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	testCases := []struct {
		name   string
		mutate func(*models.Book)
	}{
		{"missing title", func(b *models.Book) { b.Title = " " }},
		{"missing author", func(b *models.Book) { b.Author = "" }},
		{"missing isbn", func(b *models.Book) { b.ISBN = "" }},
		{"zero copies", func(b *models.Book) { b.TotalCopies = 0 }},
		{"negative copies", func(b *models.Book) { b.TotalCopies = -2 }},
		{"bad year", func(b *models.Book) { b.PublishedYear = 99 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			book := validBook("isbn-1", 1)
			tc.mutate(&book)

			_, err := svc.AddBook(ctx, book)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestUpdateBookRecomputesAvailability(t *testing.T) {
	svc, db := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.AddBook(ctx, validBook("isbn-1", 3))
	require.NoError(t, err)

	member, err := db.CreateMember(ctx, models.Member{
		FirstName: "First", LastName: "Last", Email: "a@example.com",
	})
	require.NoError(t, err)
	_, err = db.CreateLoan(ctx, models.Transaction{
		BookID: created.ID, UserID: member.ID,
		IssueDate: testStart, DueDate: testStart.AddDate(0, 0, 14),
		Status: models.StatusIssued,
	})
	require.NoError(t, err)

	// Shrink the stock to 2 with 1 copy out: 1 stays available.
	created.TotalCopies = 2
	updated, err := svc.UpdateBook(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AvailableCopies)

	// Shrink below the open-loan count: availability clamps at zero.
	updated.TotalCopies = 1
	updated, err = svc.UpdateBook(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCopies)
}

func TestUpdateBookKeepsAvailabilityWhenTotalUnchanged(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.AddBook(ctx, validBook("isbn-1", 3))
	require.NoError(t, err)

	created.Title = "Renamed"
	// Callers cannot push the availability counter through an edit.
	created.AvailableCopies = 0

	updated, err := svc.UpdateBook(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 3, updated.AvailableCopies)
	assert.Equal(t, testStart, updated.CreatedAt, "creation time survives edits")
}

func TestUpdateBookNotFound(t *testing.T) {
	svc, _ := newTestCatalog(t)

	missing := validBook("isbn-1", 1)
	missing.ID = 42

	_, err := svc.UpdateBook(context.Background(), missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBook(t *testing.T) {
	svc, db := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.AddBook(ctx, validBook("isbn-1", 1))
	require.NoError(t, err)

	member, err := db.CreateMember(ctx, models.Member{
		FirstName: "First", LastName: "Last", Email: "a@example.com",
	})
	require.NoError(t, err)
	loan, err := db.CreateLoan(ctx, models.Transaction{
		BookID: created.ID, UserID: member.ID,
		IssueDate: testStart, DueDate: testStart.AddDate(0, 0, 14),
		Status: models.StatusIssued,
	})
	require.NoError(t, err)

	err = svc.DeleteBook(ctx, created.ID)
	assert.ErrorIs(t, err, ErrBookOnLoan)

	returned := testStart.AddDate(0, 0, 1)
	loan.ReturnDate = &returned
	loan.Status = models.StatusReturned
	require.NoError(t, db.CloseLoan(ctx, loan))

	require.NoError(t, svc.DeleteBook(ctx, created.ID))

	_, found, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteBookNotFound(t *testing.T) {
	svc, _ := newTestCatalog(t)

	err := svc.DeleteBook(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetByISBN(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	created, err := svc.AddBook(ctx, validBook("isbn-1", 1))
	require.NoError(t, err)

	got, found, err := svc.GetByISBN(ctx, "isbn-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created.ID, got.ID)

	_, found, err = svc.GetByISBN(ctx, "isbn-nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSearch(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	book := validBook("isbn-1", 1)
	book.Title = "The Go Programming Language"
	_, err := svc.AddBook(ctx, book)
	require.NoError(t, err)
	_, err = svc.AddBook(ctx, validBook("isbn-2", 1))
	require.NoError(t, err)

	results, err := svc.Search(ctx, "go programming")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "isbn-1", results[0].ISBN)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
