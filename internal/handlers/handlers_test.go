package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"liblending/internal/models"
	"liblending/internal/notify"
	"liblending/internal/repositories"
	"liblending/internal/services"
)

type testClock struct{ now time.Time }

func (c testClock) Now() time.Time { return c.now }

func newRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "lending.db") + "?_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Book{},
		&models.BorrowRecord{},
		&models.WaitlistEntry{},
		&models.Review{},
		&models.ActivityLog{},
	))

	svc := services.NewLendingService(
		db,
		repositories.NewUserRepository(db),
		repositories.NewBookRepository(db),
		repositories.NewBorrowRepository(db),
		repositories.NewWaitlistRepository(db),
		repositories.NewReviewRepository(db),
		repositories.NewActivityLogRepository(db),
		notify.NewLogNotifier(),
		testClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
	)

	r := gin.New()
	RegisterRoutes(r, svc)
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: models.UserRoleMember}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedBook(t *testing.T, db *gorm.DB, title string, copies int) *models.Book {
	t.Helper()
	b := &models.Book{Title: title, Author: "Anon", Copies: copies}
	require.NoError(t, db.Create(b).Error)
	return b
}

func TestBorrowEndpointStatusMapping(t *testing.T) {
	r, db := newRouter(t)
	user := seedUser(t, db, "alice")
	empty := seedBook(t, db, "Empty", 0)

	// Zero copies -> 400 with the unavailable message.
	w := doJSON(t, r, http.MethodPost, "/borrows", gin.H{
		"user_id": user.ID.String(),
		"book_id": empty.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "currently unavailable")

	// Unknown book -> 404.
	w = doJSON(t, r, http.MethodPost, "/borrows", gin.H{
		"user_id": user.ID.String(),
		"book_id": "00000000-0000-0000-0000-000000000001",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Malformed body -> 400.
	w = doJSON(t, r, http.MethodPost, "/borrows", gin.H{"user_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBorrowLimitMapsToBadRequest(t *testing.T) {
	r, db := newRouter(t)
	user := seedUser(t, db, "alice")

	for i := 0; i < services.BorrowLimit; i++ {
		book := seedBook(t, db, fmt.Sprintf("Book %d", i), 1)
		w := doJSON(t, r, http.MethodPost, "/borrows", gin.H{
			"user_id": user.ID.String(),
			"book_id": book.ID.String(),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	extra := seedBook(t, db, "One Too Many", 1)
	w := doJSON(t, r, http.MethodPost, "/borrows", gin.H{
		"user_id": user.ID.String(),
		"book_id": extra.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "borrow limit of 5")
}

func TestListBooksQuerySurface(t *testing.T) {
	r, db := newRouter(t)
	seedBookWithGenre := func(title, genre string) {
		b := &models.Book{Title: title, Author: "Anon", Genre: genre, Copies: 1}
		require.NoError(t, db.Create(b).Error)
	}
	seedBookWithGenre("Gamma", "fantasy")
	seedBookWithGenre("Alpha", "scifi")
	seedBookWithGenre("Beta", "scifi")

	decode := func(w *httptest.ResponseRecorder) []models.Book {
		var books []models.Book
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &books))
		return books
	}
	titles := func(books []models.Book) []string {
		out := make([]string, 0, len(books))
		for _, b := range books {
			out = append(out, b.Title)
		}
		return out
	}

	// Genre filter with a deterministic sort.
	w := doJSON(t, r, http.MethodGet, "/books?genre=scifi&sort_by=title&order=asc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Alpha", "Beta"}, titles(decode(w)))

	// Search matches titles.
	w = doJSON(t, r, http.MethodGet, "/books?search=Gam", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Gamma"}, titles(decode(w)))

	// Pagination walks the sorted list.
	w = doJSON(t, r, http.MethodGet, "/books?sort_by=title&order=asc&limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Beta"}, titles(decode(w)))

	// An unknown sort column falls back instead of erroring.
	w = doJSON(t, r, http.MethodGet, "/books?sort_by=not_a_column", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w), 3)
}

func TestReviewEndpoints(t *testing.T) {
	r, db := newRouter(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	book := seedBook(t, db, "Dune", 1)

	// Out-of-scale rating -> 400.
	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/books/%s/reviews", book.ID), gin.H{
		"user_id": alice.ID.String(),
		"rating":  9,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/books/%s/reviews", book.ID), gin.H{
		"user_id":     alice.ID.String(),
		"rating":      5,
		"review_text": "a classic",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var review models.Review
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &review))

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/books/%s/reviews", book.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a classic")
	assert.Contains(t, w.Body.String(), "alice")

	// Someone else's review -> 403.
	path := fmt.Sprintf("/books/%s/reviews/%s", book.ID, review.ID)
	w = doJSON(t, r, http.MethodPatch, path, gin.H{
		"user_id": bob.ID.String(),
		"rating":  1,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPatch, path, gin.H{
		"user_id":     alice.ID.String(),
		"rating":      4,
		"review_text": "still great",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, path+"?user_id="+alice.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Gone now -> 404.
	w = doJSON(t, r, http.MethodDelete, path+"?user_id="+alice.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReturnEndpointStatusMapping(t *testing.T) {
	r, db := newRouter(t)
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	book := seedBook(t, db, "Dune", 1)

	w := doJSON(t, r, http.MethodPost, "/borrows", gin.H{
		"user_id": alice.ID.String(),
		"book_id": book.ID.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var record models.BorrowRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))

	path := fmt.Sprintf("/borrows/%s/return", record.ID)

	// Someone else's loan -> 403.
	w = doJSON(t, r, http.MethodPost, path, gin.H{"user_id": bob.ID.String()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Own loan -> 200 with fine amount.
	w = doJSON(t, r, http.MethodPost, path, gin.H{"user_id": alice.ID.String()})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fine_amount")

	// Double return -> 409.
	w = doJSON(t, r, http.MethodPost, path, gin.H{"user_id": alice.ID.String()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestWaitlistEndpoints(t *testing.T) {
	r, db := newRouter(t)
	user := seedUser(t, db, "alice")
	book := seedBook(t, db, "Dune", 1)

	// Book still available -> 409.
	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/books/%s/waitlist", book.ID), gin.H{
		"user_id": user.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, db.Model(&models.Book{}).Where("id = ?", book.ID).Update("copies", 0).Error)

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/books/%s/waitlist", book.ID), gin.H{
		"user_id": user.ID.String(),
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/books/%s/waitlist", book.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice@example.com")

	w = doJSON(t, r, http.MethodDelete,
		fmt.Sprintf("/books/%s/waitlist?user_id=%s", book.ID, user.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Leaving again -> 404.
	w = doJSON(t, r, http.MethodDelete,
		fmt.Sprintf("/books/%s/waitlist?user_id=%s", book.ID, user.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	r, db := newRouter(t)
	user := seedUser(t, db, "alice")
	book := seedBook(t, db, "Dune", 1)

	w := doJSON(t, r, http.MethodPost, "/borrows", gin.H{
		"user_id": user.ID.String(),
		"book_id": book.ID.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/admin/borrows", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Dune")

	w = doJSON(t, r, http.MethodGet, "/admin/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats services.DashboardStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Users)
	assert.Equal(t, int64(1), stats.Books)

	w = doJSON(t, r, http.MethodPost, "/admin/sweep", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "candidates")
}
