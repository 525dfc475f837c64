package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"librarian/internal/catalog"
	"librarian/internal/ledger"
	"librarian/internal/members"
	"librarian/internal/storage"
)

// Server exposes the library services as a JSON HTTP API. It is
// presentation glue only: every rule lives in the services it fronts.
type Server struct {
	books   *catalog.Service
	members *members.Service
	loans   *ledger.Service
	db      storage.Storage
	logger  *zap.Logger
}

// NewServer creates an HTTP server over the given services.
func NewServer(books *catalog.Service, memberSvc *members.Service, loans *ledger.Service, db storage.Storage, logger *zap.Logger) *Server {
	return &Server{
		books:   books,
		members: memberSvc,
		loans:   loans,
		db:      db,
		logger:  logger,
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/books", s.handleListBooks)
	mux.HandleFunc("POST /api/books", s.handleCreateBook)
	mux.HandleFunc("GET /api/books/{id}", s.handleGetBook)
	mux.HandleFunc("PUT /api/books/{id}", s.handleUpdateBook)
	mux.HandleFunc("DELETE /api/books/{id}", s.handleDeleteBook)
	mux.HandleFunc("GET /api/books/isbn/{isbn}", s.handleGetBookByISBN)

	mux.HandleFunc("GET /api/members", s.handleListMembers)
	mux.HandleFunc("POST /api/members", s.handleCreateMember)
	mux.HandleFunc("GET /api/members/{id}", s.handleGetMember)
	mux.HandleFunc("GET /api/members/{id}/transactions", s.handleMemberTransactions)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("GET /api/transactions/overdue", s.handleListOverdue)
	mux.HandleFunc("POST /api/transactions/issue", s.handleIssue)
	mux.HandleFunc("POST /api/transactions/{id}/return", s.handleReturn)

	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps service failures onto HTTP statuses: not-found to 404,
// business conflicts to 409, invalid input to 400, anything else to an
// opaque 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, ledger.ErrBookNotFound),
		errors.Is(err, ledger.ErrMemberNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, members.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNoCopiesAvailable),
		errors.Is(err, ledger.ErrAlreadyIssued),
		errors.Is(err, ledger.ErrAlreadyReturned),
		errors.Is(err, catalog.ErrDuplicateISBN),
		errors.Is(err, catalog.ErrBookOnLoan),
		errors.Is(err, members.ErrDuplicateEmail):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrInvalid),
		errors.Is(err, members.ErrInvalid):
		status = http.StatusBadRequest
	default:
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
