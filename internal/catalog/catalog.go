package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// Failures surfaced by the catalog service.
var (
	ErrNotFound      = errors.New("book not found")
	ErrDuplicateISBN = errors.New("a book with this ISBN already exists")
	ErrBookOnLoan    = errors.New("cannot delete a book with open loans")
	ErrInvalid       = errors.New("invalid book")
)

// Service manages the book catalog. It owns every Book attribute except the
// moment-to-moment availability counter, which only the lending ledger
// moves; when total copies are edited here, the counter is recomputed from
// the open-loan count rather than written directly.
type Service struct {
	db     storage.Storage
	logger *zap.Logger

	now func() time.Time
}

// New creates a catalog service over the given store.
func New(db storage.Storage, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

func validate(book models.Book) error {
	if strings.TrimSpace(book.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if strings.TrimSpace(book.Author) == "" {
		return fmt.Errorf("%w: author is required", ErrInvalid)
	}
	if strings.TrimSpace(book.ISBN) == "" {
		return fmt.Errorf("%w: ISBN is required", ErrInvalid)
	}
	if book.TotalCopies < 1 {
		return fmt.Errorf("%w: total copies must be at least 1", ErrInvalid)
	}
	if book.PublishedYear != 0 && (book.PublishedYear < 1000 || book.PublishedYear > 9999) {
		return fmt.Errorf("%w: published year out of range", ErrInvalid)
	}
	return nil
}

// AddBook adds a new title to the catalog. Every copy starts available.
func (s *Service) AddBook(ctx context.Context, book models.Book) (models.Book, error) {
	if err := validate(book); err != nil {
		return models.Book{}, err
	}

	now := s.now()
	book.AvailableCopies = book.TotalCopies
	book.CreatedAt = now
	book.UpdatedAt = now

	created, err := s.db.CreateBook(ctx, book)
	if errors.Is(err, storage.ErrDuplicateISBN) {
		return models.Book{}, ErrDuplicateISBN
	}
	if err != nil {
		s.logger.Error("Failed to add book", zap.String("isbn", book.ISBN), zap.Error(err))
		return models.Book{}, fmt.Errorf("catalog add: %w", err)
	}

	s.logger.Info("Book added",
		zap.Int64("book_id", created.ID),
		zap.String("title", created.Title),
		zap.Int("total_copies", created.TotalCopies),
	)
	return created, nil
}

// UpdateBook edits a book's attributes. The available count is never taken
// from the caller: the store recomputes it as max(0, total - issued) in the
// same transaction as the write, so a concurrent issue or return cannot be
// overwritten.
func (s *Service) UpdateBook(ctx context.Context, book models.Book) (models.Book, error) {
	if err := validate(book); err != nil {
		return models.Book{}, err
	}

	existing, found, err := s.db.FindBookByID(ctx, book.ID)
	if err != nil {
		s.logger.Error("Failed to load book for update", zap.Int64("book_id", book.ID), zap.Error(err))
		return models.Book{}, fmt.Errorf("catalog update: %w", err)
	}
	if !found {
		return models.Book{}, ErrNotFound
	}

	book.CreatedAt = existing.CreatedAt
	book.UpdatedAt = s.now()

	updated, err := s.db.UpdateBook(ctx, book)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateISBN) {
			return models.Book{}, ErrDuplicateISBN
		}
		s.logger.Error("Failed to update book", zap.Int64("book_id", book.ID), zap.Error(err))
		return models.Book{}, fmt.Errorf("catalog update: %w", err)
	}
	return updated, nil
}

// DeleteBook removes a title. Deletion is refused while any copy is still
// out on loan, so transactions never dangle against a missing book.
func (s *Service) DeleteBook(ctx context.Context, id int64) error {
	_, found, err := s.db.FindBookByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load book for delete", zap.Int64("book_id", id), zap.Error(err))
		return fmt.Errorf("catalog delete: %w", err)
	}
	if !found {
		return ErrNotFound
	}

	if err := s.db.DeleteBook(ctx, id); err != nil {
		if errors.Is(err, storage.ErrBookOnLoan) {
			return ErrBookOnLoan
		}
		s.logger.Error("Failed to delete book", zap.Int64("book_id", id), zap.Error(err))
		return fmt.Errorf("catalog delete: %w", err)
	}

	s.logger.Info("Book deleted", zap.Int64("book_id", id))
	return nil
}

// GetByID looks a book up by id, reporting absence via the found flag.
func (s *Service) GetByID(ctx context.Context, id int64) (models.Book, bool, error) {
	book, found, err := s.db.FindBookByID(ctx, id)
	if err != nil {
		return models.Book{}, false, fmt.Errorf("catalog get: %w", err)
	}
	return book, found, nil
}

// GetByISBN looks a book up by ISBN.
func (s *Service) GetByISBN(ctx context.Context, isbn string) (models.Book, bool, error) {
	book, found, err := s.db.FindBookByISBN(ctx, isbn)
	if err != nil {
		return models.Book{}, false, fmt.Errorf("catalog get by isbn: %w", err)
	}
	return book, found, nil
}

// ListAll returns the catalog ordered by title.
func (s *Service) ListAll(ctx context.Context) ([]models.Book, error) {
	books, err := s.db.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog list: %w", err)
	}
	return books, nil
}

// Search matches the term against title, author, ISBN, genre and publisher.
// An empty term lists everything.
func (s *Service) Search(ctx context.Context, term string) ([]models.Book, error) {
	books, err := s.db.SearchBooks(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	return books, nil
}
