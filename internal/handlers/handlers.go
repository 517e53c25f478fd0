package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"liblending/internal/models"
	"liblending/internal/repositories"
	"liblending/internal/services"
)

type LendingHandler struct {
	svc services.LendingService
}

func RegisterRoutes(r *gin.Engine, svc services.LendingService) {
	h := &LendingHandler{svc: svc}

	// Catalogue
	r.POST("/books", h.createBook)
	r.GET("/books", h.listBooks)
	r.GET("/books/:id", h.getBook)

	// Borrowing
	r.POST("/borrows", h.borrowBook)
	r.POST("/borrows/:id/return", h.returnBook)
	r.GET("/users/:id/borrows", h.borrowHistory)
	r.GET("/users/:id/recommendations", h.recommendations)

	// Waitlist
	r.POST("/books/:id/waitlist", h.joinWaitlist)
	r.DELETE("/books/:id/waitlist", h.leaveWaitlist)
	r.GET("/books/:id/waitlist", h.waitlistForBook)

	// Reviews
	r.POST("/books/:id/reviews", h.addReview)
	r.GET("/books/:id/reviews", h.reviewsForBook)
	r.PATCH("/books/:id/reviews/:reviewId", h.updateReview)
	r.DELETE("/books/:id/reviews/:reviewId", h.deleteReview)

	// Admin
	r.GET("/admin/borrows", h.listActiveBorrows)
	r.GET("/admin/stats", h.dashboardStats)
	r.GET("/admin/top-books", h.topBorrowedBooks)
	r.POST("/admin/sweep", h.runSweep)
}

// respondError maps domain sentinels onto HTTP statuses; anything unknown is
// a 500 with a generic message.
func respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrBorrowNotFound),
		errors.Is(err, services.ErrReviewNotFound),
		errors.Is(err, services.ErrNotOnWaitlist):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrNotYourBorrow),
		errors.Is(err, services.ErrNotYourReview):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrAlreadyBorrowed),
		errors.Is(err, services.ErrAlreadyOnWaitlist),
		errors.Is(err, services.ErrBookStillAvailable):
		status = http.StatusConflict
	case errors.Is(err, services.ErrBookUnavailable),
		errors.Is(err, services.ErrBorrowLimitReached),
		errors.Is(err, services.ErrInvalidRating):
		status = http.StatusBadRequest
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createBookRequest struct {
	Title       string `json:"title" binding:"required"`
	Author      string `json:"author" binding:"required"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	Copies      int    `json:"copies" binding:"min=0"`
}

func (h *LendingHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.svc.CreateBook(req.Title, req.Author, req.Description, req.Genre, req.Copies)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *LendingHandler) listBooks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	books, err := h.svc.ListBooks(repositories.ListBooksOptions{
		Search: c.Query("search"),
		Genre:  c.Query("genre"),
		SortBy: c.Query("sort_by"),
		Order:  c.Query("order"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LendingHandler) getBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	book, err := h.svc.GetBook(bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type borrowRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	BookID string `json:"book_id" binding:"required,uuid"`
}

func (h *LendingHandler) borrowBook(c *gin.Context) {
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	bookID, _ := uuid.Parse(req.BookID)

	record, err := h.svc.BorrowBook(bookID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

type returnRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

func (h *LendingHandler) returnBook(c *gin.Context) {
	borrowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid borrow id"})
		return
	}
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	record, err := h.svc.ReturnBook(borrowID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Book returned successfully!",
		"fine_amount": record.FineAmount,
		"record":      record,
	})
}

func (h *LendingHandler) borrowHistory(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	history, err := h.svc.BorrowHistory(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *LendingHandler) recommendations(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	books, err := h.svc.RecommendationsForUser(userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

type waitlistRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

func (h *LendingHandler) joinWaitlist(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	var req waitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	entry, err := h.svc.JoinWaitlist(bookID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *LendingHandler) leaveWaitlist(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.svc.LeaveWaitlist(bookID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully left the waitlist."})
}

type waitlistEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserEmail string    `json:"user_email"`
	Position  int       `json:"position"`
}

func (h *LendingHandler) waitlistForBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	entries, err := h.svc.WaitlistForBook(bookID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]waitlistEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, waitlistEntryResponse{
			ID:        e.ID,
			UserID:    e.UserID,
			UserName:  e.User.Name,
			UserEmail: e.User.Email,
			Position:  e.Position,
		})
	}
	c.JSON(http.StatusOK, out)
}

type addReviewRequest struct {
	UserID     string `json:"user_id" binding:"required,uuid"`
	Rating     int    `json:"rating" binding:"required"`
	ReviewText string `json:"review_text"`
}

func (h *LendingHandler) addReview(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}
	var req addReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	review, err := h.svc.AddReview(bookID, userID, req.Rating, req.ReviewText)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

type reviewResponse struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	UserName   string    `json:"user_name"`
	Rating     int       `json:"rating"`
	ReviewText string    `json:"review_text"`
}

func (h *LendingHandler) reviewsForBook(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book id"})
		return
	}

	reviews, err := h.svc.ReviewsForBook(bookID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]reviewResponse, 0, len(reviews))
	for _, rv := range reviews {
		out = append(out, reviewResponse{
			ID:         rv.ID,
			UserID:     rv.UserID,
			UserName:   rv.User.Name,
			Rating:     rv.Rating,
			ReviewText: rv.ReviewText,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *LendingHandler) updateReview(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("reviewId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review id"})
		return
	}
	var req addReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := uuid.Parse(req.UserID)

	review, err := h.svc.UpdateReview(reviewID, userID, req.Rating, req.ReviewText)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *LendingHandler) deleteReview(c *gin.Context) {
	reviewID, err := uuid.Parse(c.Param("reviewId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid review id"})
		return
	}
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	if err := h.svc.DeleteReview(reviewID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type activeBorrowResponse struct {
	models.BorrowRecord
	UserName  string `json:"user_name"`
	BookTitle string `json:"book_title"`
}

func (h *LendingHandler) listActiveBorrows(c *gin.Context) {
	records, err := h.svc.ListActiveBorrows()
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]activeBorrowResponse, 0, len(records))
	for _, r := range records {
		out = append(out, activeBorrowResponse{
			BorrowRecord: r,
			UserName:     r.User.Name,
			BookTitle:    r.Book.Title,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *LendingHandler) dashboardStats(c *gin.Context) {
	stats, err := h.svc.DashboardStats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *LendingHandler) topBorrowedBooks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	books, err := h.svc.TopBorrowedBooks(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *LendingHandler) runSweep(c *gin.Context) {
	report, err := h.svc.SweepOverdue()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
