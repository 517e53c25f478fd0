package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"liblending/internal/models"
)

// ListBooksOptions narrows and orders catalogue listings. SortBy is matched
// against a whitelist; anything else falls back to created_at.
type ListBooksOptions struct {
	Search string
	Genre  string
	SortBy string
	Order  string
	Limit  int
	Offset int
}

// BookBorrowCount is a catalogue row annotated with its historical borrow count.
type BookBorrowCount struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Genre       string    `json:"genre,omitempty"`
	BorrowCount int       `json:"borrow_count"`
}

// GenreCount is a genre annotated with how often a user borrowed from it.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int    `json:"count"`
}

type UserRepository interface {
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)

	// GetByIDForUpdate loads the user row with a row lock when the dialect
	// supports one, serialising concurrent borrows by the same user.
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.User, error)

	CountAll(db *gorm.DB) (int64, error)
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	List(db *gorm.DB, opts ListBooksOptions) ([]models.Book, error)
	ListByGenres(db *gorm.DB, genres []string, limit int) ([]models.Book, error)
	CountAll(db *gorm.DB) (int64, error)
	TopBorrowed(db *gorm.DB, limit int) ([]BookBorrowCount, error)

	// DecrementCopiesIfAvailable atomically takes one copy, guarded so the
	// count can never go negative. Zero rows affected means no copy was left.
	DecrementCopiesIfAvailable(db *gorm.DB, bookID uuid.UUID) (int64, error)
	IncrementCopies(db *gorm.DB, bookID uuid.UUID, delta int) error
}

type BorrowRepository interface {
	Create(db *gorm.DB, record *models.BorrowRecord) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.BorrowRecord, error)
	ListActiveWithDetail(db *gorm.DB) ([]models.BorrowRecord, error)
	CountActiveByUser(db *gorm.DB, userID uuid.UUID) (int64, error)
	HasActiveBorrow(db *gorm.DB, userID, bookID uuid.UUID) (bool, error)
	CountOverdue(db *gorm.DB) (int64, error)
	SumFines(db *gorm.DB) (float64, error)
	FindOverdueCandidates(db *gorm.DB, asOf time.Time) ([]models.BorrowRecord, error)
	TopGenresForUser(db *gorm.DB, userID uuid.UUID, limit int) ([]GenreCount, error)

	// MarkReturned finalises a record, guarded against double-returns.
	// Zero rows affected means the record was already returned.
	MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, fineAmount float64) (int64, error)

	// MarkOverdueIfBorrowed transitions borrowed -> overdue, conditioned on
	// the record still being borrowed at write time so a concurrent return
	// is never overwritten.
	MarkOverdueIfBorrowed(db *gorm.DB, id uuid.UUID) (int64, error)
}

type WaitlistRepository interface {
	Create(db *gorm.DB, entry *models.WaitlistEntry) error
	FindByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (*models.WaitlistEntry, error)
	NextPosition(db *gorm.DB, bookID uuid.UUID) (int, error)
	PeekNext(db *gorm.DB, bookID uuid.UUID) (*models.WaitlistEntry, error)
	DeleteByID(db *gorm.DB, id uuid.UUID) error
	DeleteByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (int64, error)
	ListByBookWithUser(db *gorm.DB, bookID uuid.UUID) ([]models.WaitlistEntry, error)
}

type ReviewRepository interface {
	Create(db *gorm.DB, review *models.Review) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Review, error)
	ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Review, error)
	Update(db *gorm.DB, id uuid.UUID, rating int, reviewText string) error
	DeleteByID(db *gorm.DB, id uuid.UUID) error

	// TopRatedBooks returns the books with the highest average rating, best
	// first. Books with no reviews never appear.
	TopRatedBooks(db *gorm.DB, limit int) ([]models.Book, error)
}

type ActivityLogRepository interface {
	Record(db *gorm.DB, userID *uuid.UUID, action, metadata string, at time.Time) error
}

// concrete implementations

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.User, error) {
	if db == nil {
		db = r.db
	}
	// sqlite has no FOR UPDATE; its write transactions are already serialised,
	// so the lock is only applied on postgres.
	if db.Dialector.Name() == "postgres" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) CountAll(db *gorm.DB) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.User{}).Count(&n).Error
	return n, err
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

var bookSortColumns = map[string]string{
	"created_at": "created_at",
	"title":      "title",
	"author":     "author",
}

func (r *bookRepository) List(db *gorm.DB, opts ListBooksOptions) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Book{})
	if opts.Genre != "" {
		q = q.Where("genre = ?", opts.Genre)
	}
	if opts.Search != "" {
		like := "%" + opts.Search + "%"
		q = q.Where("title LIKE ? OR author LIKE ? OR description LIKE ?", like, like, like)
	}

	col, ok := bookSortColumns[opts.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if opts.Order == "asc" {
		dir = "ASC"
	}
	q = q.Order(col + " " + dir)

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var books []models.Book
	if err := q.Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) ListByGenres(db *gorm.DB, genres []string, limit int) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	q := db.Where("genre IN ?", genres)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) CountAll(db *gorm.DB) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.Book{}).Count(&n).Error
	return n, err
}

func (r *bookRepository) TopBorrowed(db *gorm.DB, limit int) ([]BookBorrowCount, error) {
	if db == nil {
		db = r.db
	}
	var rows []BookBorrowCount
	err := db.Table("borrow_records").
		Select("books.id, books.title, books.author, books.genre, COUNT(borrow_records.id) AS borrow_count").
		Joins("JOIN books ON books.id = borrow_records.book_id").
		Group("books.id, books.title, books.author, books.genre").
		Order("borrow_count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *bookRepository) DecrementCopiesIfAvailable(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("id = ? AND copies > 0", bookID).
		UpdateColumn("copies", gorm.Expr("copies - 1"))
	return res.RowsAffected, res.Error
}

func (r *bookRepository) IncrementCopies(db *gorm.DB, bookID uuid.UUID, delta int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("id = ?", bookID).
		UpdateColumn("copies", gorm.Expr("copies + ?", delta)).
		Error
}

type borrowRepository struct {
	db *gorm.DB
}

func NewBorrowRepository(db *gorm.DB) BorrowRepository {
	return &borrowRepository{db: db}
}

func (r *borrowRepository) Create(db *gorm.DB, record *models.BorrowRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Create(record).Error
}

func (r *borrowRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRepository) ListByUser(db *gorm.DB, userID uuid.UUID) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	if err := db.Where("user_id = ?", userID).
		Order("borrow_date DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRepository) ListActiveWithDetail(db *gorm.DB) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("User").Preload("Book").
		Where("status IN ?", []models.BorrowStatus{models.BorrowStatusBorrowed, models.BorrowStatusOverdue}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRepository) CountActiveByUser(db *gorm.DB, userID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.BorrowRecord{}).
		Where("user_id = ? AND status = ?", userID, models.BorrowStatusBorrowed).
		Count(&n).Error
	return n, err
}

func (r *borrowRepository) HasActiveBorrow(db *gorm.DB, userID, bookID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.BorrowRecord{}).
		Where("user_id = ? AND book_id = ? AND status IN ?",
			userID, bookID,
			[]models.BorrowStatus{models.BorrowStatusBorrowed, models.BorrowStatusOverdue}).
		Count(&n).Error
	return n > 0, err
}

func (r *borrowRepository) CountOverdue(db *gorm.DB) (int64, error) {
	if db == nil {
		db = r.db
	}
	var n int64
	err := db.Model(&models.BorrowRecord{}).
		Where("status = ?", models.BorrowStatusOverdue).
		Count(&n).Error
	return n, err
}

func (r *borrowRepository) SumFines(db *gorm.DB) (float64, error) {
	if db == nil {
		db = r.db
	}
	var total float64
	err := db.Model(&models.BorrowRecord{}).
		Select("COALESCE(SUM(fine_amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *borrowRepository) FindOverdueCandidates(db *gorm.DB, asOf time.Time) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("User").Preload("Book").
		Where("status = ? AND due_date < ?", models.BorrowStatusBorrowed, asOf).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRepository) TopGenresForUser(db *gorm.DB, userID uuid.UUID, limit int) ([]GenreCount, error) {
	if db == nil {
		db = r.db
	}
	var rows []GenreCount
	err := db.Table("borrow_records").
		Select("books.genre AS genre, COUNT(books.genre) AS count").
		Joins("JOIN books ON books.id = borrow_records.book_id").
		Where("borrow_records.user_id = ? AND books.genre <> ''", userID).
		Group("books.genre").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *borrowRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnedAt time.Time, fineAmount float64) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.BorrowRecord{}).
		Where("id = ? AND status <> ?", id, models.BorrowStatusReturned).
		Updates(map[string]interface{}{
			"status":      models.BorrowStatusReturned,
			"return_date": returnedAt,
			"fine_amount": fineAmount,
		})
	return res.RowsAffected, res.Error
}

func (r *borrowRepository) MarkOverdueIfBorrowed(db *gorm.DB, id uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.BorrowRecord{}).
		Where("id = ? AND status = ?", id, models.BorrowStatusBorrowed).
		Update("status", models.BorrowStatusOverdue)
	return res.RowsAffected, res.Error
}

type waitlistRepository struct {
	db *gorm.DB
}

func NewWaitlistRepository(db *gorm.DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

func (r *waitlistRepository) Create(db *gorm.DB, entry *models.WaitlistEntry) error {
	if db == nil {
		db = r.db
	}
	return db.Create(entry).Error
}

func (r *waitlistRepository) FindByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (*models.WaitlistEntry, error) {
	if db == nil {
		db = r.db
	}
	var entry models.WaitlistEntry
	err := db.Where("user_id = ? AND book_id = ?", userID, bookID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *waitlistRepository) NextPosition(db *gorm.DB, bookID uuid.UUID) (int, error) {
	if db == nil {
		db = r.db
	}
	var maxPos int
	err := db.Model(&models.WaitlistEntry{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPos).Error
	if err != nil {
		return 0, err
	}
	return maxPos + 1, nil
}

func (r *waitlistRepository) PeekNext(db *gorm.DB, bookID uuid.UUID) (*models.WaitlistEntry, error) {
	if db == nil {
		db = r.db
	}
	var entry models.WaitlistEntry
	err := db.Where("book_id = ?", bookID).
		Order("position ASC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *waitlistRepository) DeleteByID(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.WaitlistEntry{}, "id = ?", id).Error
}

func (r *waitlistRepository) DeleteByUserAndBook(db *gorm.DB, userID, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Delete(&models.WaitlistEntry{}, "user_id = ? AND book_id = ?", userID, bookID)
	return res.RowsAffected, res.Error
}

func (r *waitlistRepository) ListByBookWithUser(db *gorm.DB, bookID uuid.UUID) ([]models.WaitlistEntry, error) {
	if db == nil {
		db = r.db
	}
	var entries []models.WaitlistEntry
	err := db.Preload("User").
		Where("book_id = ?", bookID).
		Order("position ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

type reviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) ReviewRepository {
	return &reviewRepository{db: db}
}

func (r *reviewRepository) Create(db *gorm.DB, review *models.Review) error {
	if db == nil {
		db = r.db
	}
	return db.Create(review).Error
}

func (r *reviewRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Review, error) {
	if db == nil {
		db = r.db
	}
	var review models.Review
	if err := db.First(&review, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *reviewRepository) ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Review, error) {
	if db == nil {
		db = r.db
	}
	var reviews []models.Review
	err := db.Preload("User").
		Where("book_id = ?", bookID).
		Order("created_at DESC").
		Find(&reviews).Error
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

func (r *reviewRepository) Update(db *gorm.DB, id uuid.UUID, rating int, reviewText string) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Review{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rating":      rating,
			"review_text": reviewText,
		}).Error
}

func (r *reviewRepository) DeleteByID(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Review{}, "id = ?", id).Error
}

func (r *reviewRepository) TopRatedBooks(db *gorm.DB, limit int) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	err := db.Table("reviews").
		Select("books.*, AVG(reviews.rating) AS average_rating").
		Joins("JOIN books ON books.id = reviews.book_id").
		Group("books.id").
		Order("average_rating DESC").
		Limit(limit).
		Scan(&books).Error
	if err != nil {
		return nil, err
	}
	return books, nil
}

type activityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Record(db *gorm.DB, userID *uuid.UUID, action, metadata string, at time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.Create(&models.ActivityLog{
		UserID:    userID,
		Action:    action,
		Metadata:  metadata,
		Timestamp: at,
	}).Error
}
