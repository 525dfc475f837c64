package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"librarian/internal/models"
)

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// BookRequest is the request body for creating or updating a book.
type BookRequest struct {
	ISBN          string `json:"isbn"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Publisher     string `json:"publisher"`
	PublishedYear int    `json:"published_year"`
	Genre         string `json:"genre"`
	TotalCopies   int    `json:"total_copies"`
}

func (req BookRequest) toModel() models.Book {
	return models.Book{
		ISBN:          req.ISBN,
		Title:         req.Title,
		Author:        req.Author,
		Publisher:     req.Publisher,
		PublishedYear: req.PublishedYear,
		Genre:         req.Genre,
		TotalCopies:   req.TotalCopies,
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	// ?q= searches, no parameter lists the whole catalog.
	books, err := s.books.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	s.writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	book, err := s.books.AddBook(r.Context(), req.toModel())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid book id")
		return
	}
	book, found, err := s.books.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "book not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleGetBookByISBN(w http.ResponseWriter, r *http.Request) {
	book, found, err := s.books.GetByISBN(r.Context(), r.PathValue("isbn"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "book not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid book id")
		return
	}
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	book := req.toModel()
	book.ID = id
	updated, err := s.books.UpdateBook(r.Context(), book)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid book id")
		return
	}
	if err := s.books.DeleteBook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// MemberRequest is the request body for registering a member. The
// membership number is assigned by the system, never accepted from the
// caller.
type MemberRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := s.members.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Member{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	member, err := s.members.Register(r.Context(), models.Member{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid member id")
		return
	}
	member, found, err := s.members.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, member)
}

func (s *Server) handleMemberTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid member id")
		return
	}
	txs, err := s.loans.ListForUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txs)
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// IssueRequest is the request body for issuing a book to a member.
type IssueRequest struct {
	BookID int64 `json:"book_id"`
	UserID int64 `json:"user_id"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	if req.BookID <= 0 || req.UserID <= 0 {
		s.badRequest(w, "book_id and user_id are required")
		return
	}

	tx, err := s.loans.Issue(r.Context(), req.BookID, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("Issue request served",
		zap.Int64("transaction_id", tx.ID),
		zap.Time("due_date", tx.DueDate),
	)
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid transaction id")
		return
	}
	tx, err := s.loans.Return(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.loans.ListAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.badRequest(w, "invalid transaction id")
		return
	}
	tx, found, err := s.loans.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListOverdue(w http.ResponseWriter, r *http.Request) {
	// Optional ?as_of=RFC3339 timestamp; defaults to now.
	var asOf time.Time
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.badRequest(w, "invalid as_of timestamp")
			return
		}
		asOf = parsed
	}

	txs, err := s.loans.ListOverdue(r.Context(), asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txs)
}

// ---------------------------------------------------------------------------
// Dashboard
// ---------------------------------------------------------------------------

// Dashboard carries the headline counts for the landing page.
type Dashboard struct {
	TotalBooks     int `json:"total_books"`
	TotalMembers   int `json:"total_members"`
	IssuedBooks    int `json:"issued_books"`
	OverdueBooks   int `json:"overdue_books"`
	AvailableBooks int `json:"available_books"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalBooks, err := s.db.CountBooks(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	totalMembers, err := s.db.CountMembers(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	issued, err := s.loans.CountIssued(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	overdue, err := s.db.CountRecordedOverdue(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, Dashboard{
		TotalBooks:     totalBooks,
		TotalMembers:   totalMembers,
		IssuedBooks:    issued,
		OverdueBooks:   overdue,
		AvailableBooks: totalBooks - issued,
	})
}
