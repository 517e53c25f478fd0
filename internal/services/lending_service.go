package services

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"liblending/internal/models"
	"liblending/internal/notify"
	"liblending/internal/repositories"
)

// ─── Lending Constants ────────────────────────────────────────────────────────

const (
	// BorrowLimit is the maximum number of concurrently borrowed books per user.
	// Only records still in status "borrowed" count toward it.
	BorrowLimit = 5

	// LoanPeriodDays is the number of days a user may keep a book before
	// incurring fines.
	LoanPeriodDays = 14

	// FinePerDay is the fine amount (in currency units) charged per calendar
	// day overdue. Any partial day rounds up to a full day.
	FinePerDay = 1.0
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrBorrowNotFound is returned when the referenced borrow record does not exist.
	ErrBorrowNotFound = errors.New("borrow record not found")

	// ErrBookUnavailable is returned when a borrow is attempted with zero
	// lendable copies left.
	ErrBookUnavailable = errors.New("this book is currently unavailable")

	// ErrBorrowLimitReached is returned when the user already holds the
	// maximum number of borrowed books.
	ErrBorrowLimitReached = fmt.Errorf("you have reached your borrow limit of %d books", BorrowLimit)

	// ErrAlreadyBorrowed is returned when the user already has an unreturned
	// record for the same book.
	ErrAlreadyBorrowed = errors.New("you already have this book on loan")

	// ErrNotYourBorrow is returned when a user attempts to return a loan that
	// belongs to someone else.
	ErrNotYourBorrow = errors.New("this is not your borrow record")

	// ErrAlreadyReturned is returned when a return is attempted on a record
	// that has already been returned.
	ErrAlreadyReturned = errors.New("this book has already been returned")

	// ErrBookStillAvailable is returned when a waitlist join is attempted for
	// a book that still has copies on the shelf.
	ErrBookStillAvailable = errors.New("this book is available, you cannot join the waitlist")

	// ErrAlreadyOnWaitlist is returned on a duplicate waitlist join.
	ErrAlreadyOnWaitlist = errors.New("you are already on the waitlist for this book")

	// ErrNotOnWaitlist is returned when leaving a waitlist the user never joined.
	ErrNotOnWaitlist = errors.New("you were not on the waitlist for this book")

	// ErrReviewNotFound is returned when the referenced review does not exist.
	ErrReviewNotFound = errors.New("review not found")

	// ErrNotYourReview is returned when a user attempts to modify a review
	// they do not own and lack the role to moderate.
	ErrNotYourReview = errors.New("you can only modify your own reviews")

	// ErrInvalidRating is returned when a rating falls outside the 1-5 scale.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// ─── Service Interface ────────────────────────────────────────────────────────

// DashboardStats aggregates the admin dashboard counters.
type DashboardStats struct {
	Users      int64   `json:"users"`
	Books      int64   `json:"books"`
	Overdue    int64   `json:"overdue"`
	TotalFines float64 `json:"fines"`
}

// SweepReport summarises one run of the overdue sweep.
type SweepReport struct {
	Candidates     int `json:"candidates"`
	MarkedOverdue  int `json:"marked_overdue"`
	NotifyFailures int `json:"notify_failures"`
}

// LendingService defines the application-level operations of the lending system.
type LendingService interface {
	CreateBook(title, author, description, genre string, copies int) (*models.Book, error)
	GetBook(bookID uuid.UUID) (*models.Book, error)
	ListBooks(opts repositories.ListBooksOptions) ([]models.Book, error)

	BorrowBook(bookID, userID uuid.UUID) (*models.BorrowRecord, error)
	ReturnBook(borrowID, userID uuid.UUID) (*models.BorrowRecord, error)
	BorrowHistory(userID uuid.UUID) ([]models.BorrowRecord, error)
	ListActiveBorrows() ([]models.BorrowRecord, error)

	JoinWaitlist(bookID, userID uuid.UUID) (*models.WaitlistEntry, error)
	LeaveWaitlist(bookID, userID uuid.UUID) error
	WaitlistForBook(bookID uuid.UUID) ([]models.WaitlistEntry, error)

	AddReview(bookID, userID uuid.UUID, rating int, reviewText string) (*models.Review, error)
	ReviewsForBook(bookID uuid.UUID) ([]models.Review, error)
	UpdateReview(reviewID, userID uuid.UUID, rating int, reviewText string) (*models.Review, error)
	DeleteReview(reviewID, userID uuid.UUID) error

	DashboardStats() (*DashboardStats, error)
	TopBorrowedBooks(limit int) ([]repositories.BookBorrowCount, error)
	RecommendationsForUser(userID uuid.UUID, limit int) ([]models.Book, error)

	SweepOverdue() (*SweepReport, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type lendingService struct {
	db           *gorm.DB
	userRepo     repositories.UserRepository
	bookRepo     repositories.BookRepository
	borrowRepo   repositories.BorrowRepository
	waitlistRepo repositories.WaitlistRepository
	reviewRepo   repositories.ReviewRepository
	activityRepo repositories.ActivityLogRepository
	notifier     notify.Notifier
	clock        Clock
}

// NewLendingService wires up all dependencies and returns a LendingService.
func NewLendingService(
	db *gorm.DB,
	userRepo repositories.UserRepository,
	bookRepo repositories.BookRepository,
	borrowRepo repositories.BorrowRepository,
	waitlistRepo repositories.WaitlistRepository,
	reviewRepo repositories.ReviewRepository,
	activityRepo repositories.ActivityLogRepository,
	notifier notify.Notifier,
	clock Clock,
) LendingService {
	return &lendingService{
		db:           db,
		userRepo:     userRepo,
		bookRepo:     bookRepo,
		borrowRepo:   borrowRepo,
		waitlistRepo: waitlistRepo,
		reviewRepo:   reviewRepo,
		activityRepo: activityRepo,
		notifier:     notifier,
		clock:        clock,
	}
}

// ─── Catalogue ────────────────────────────────────────────────────────────────

// CreateBook adds a book to the catalogue with its initial copy count.
func (s *lendingService) CreateBook(title, author, description, genre string, copies int) (*models.Book, error) {
	if copies < 0 {
		copies = 0
	}
	book := &models.Book{
		Title:       title,
		Author:      author,
		Description: description,
		Genre:       genre,
		Copies:      copies,
	}
	if err := s.bookRepo.Create(nil, book); err != nil {
		log.Printf("[ERROR] CreateBook: failed to create book record: %v", err)
		return nil, err
	}
	log.Printf("[INFO] CreateBook: created book %q (id=%s) with %d copies", book.Title, book.ID, copies)
	return book, nil
}

func (s *lendingService) GetBook(bookID uuid.UUID) (*models.Book, error) {
	book, err := s.bookRepo.GetByID(nil, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return book, nil
}

func (s *lendingService) ListBooks(opts repositories.ListBooksOptions) ([]models.Book, error) {
	return s.bookRepo.List(nil, opts)
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// BorrowBook implements the transactional borrow flow.
//
// Precondition order (first failure wins): user exists, book exists, a copy is
// available, the user is under the borrow limit, the user has no unreturned
// record for this book. On success a BorrowRecord is created with a 14-day
// due date and one copy is taken atomically; the decrement is conditioned on
// copies > 0 so two concurrent borrows cannot both win the last copy.
//
// The borrower confirmation is dispatched after commit and never affects the
// result.
func (s *lendingService) BorrowBook(bookID, userID uuid.UUID) (*models.BorrowRecord, error) {
	var record *models.BorrowRecord
	var user *models.User
	var book *models.Book

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		// The row lock serialises concurrent borrows by the same user, so the
		// active-loan count below cannot be read stale by two transactions.
		user, err = s.userRepo.GetByIDForUpdate(tx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		book, err = s.bookRepo.GetByID(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if book.Copies <= 0 {
			return ErrBookUnavailable
		}

		active, err := s.borrowRepo.CountActiveByUser(tx, userID)
		if err != nil {
			return err
		}
		if active >= BorrowLimit {
			log.Printf("[WARN] BorrowBook: user %s at borrow limit (%d active)", userID, active)
			return ErrBorrowLimitReached
		}

		held, err := s.borrowRepo.HasActiveBorrow(tx, userID, bookID)
		if err != nil {
			return err
		}
		if held {
			return ErrAlreadyBorrowed
		}

		now := s.clock.Now()
		record = &models.BorrowRecord{
			UserID:     userID,
			BookID:     bookID,
			BorrowDate: now,
			DueDate:    dateOnly(now).AddDate(0, 0, LoanPeriodDays),
			Status:     models.BorrowStatusBorrowed,
		}
		if err := s.borrowRepo.Create(tx, record); err != nil {
			log.Printf("[ERROR] BorrowBook: failed to create borrow record: %v", err)
			return err
		}

		affected, err := s.bookRepo.DecrementCopiesIfAvailable(tx, bookID)
		if err != nil {
			log.Printf("[ERROR] BorrowBook: failed to decrement copies for book %s: %v", bookID, err)
			return err
		}
		if affected == 0 {
			// Lost the race for the last copy; roll everything back.
			return ErrBookUnavailable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] BorrowBook: borrow created (id=%s) for user %s / book %s, due %s",
		record.ID, userID, bookID, record.DueDate.Format("2006-01-02"))

	due := record.DueDate.Format("2006-01-02")
	go func() {
		if err := s.notifier.Send(
			user.Email,
			"Book Borrow Confirmation",
			fmt.Sprintf("You have successfully borrowed %q. The due date is %s.", book.Title, due),
		); err != nil {
			log.Printf("[WARN] BorrowBook: borrow confirmation failed for user %s: %v", userID, err)
		}
	}()
	s.logActivity(&userID, "borrow", fmt.Sprintf("book=%s borrow=%s", bookID, record.ID))

	return record, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// ReturnBook implements the transactional return flow.
//
// Only the borrowing user may return a loan. The status update is conditioned
// on the record not already being returned, so a concurrent double-return
// changes the fine and the copy count exactly once. After commit the head of
// the book's waitlist, if any, is promoted best-effort.
func (s *lendingService) ReturnBook(borrowID, userID uuid.UUID) (*models.BorrowRecord, error) {
	var record *models.BorrowRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = s.borrowRepo.GetByID(tx, borrowID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBorrowNotFound
			}
			return err
		}
		if record.UserID != userID {
			return ErrNotYourBorrow
		}
		if record.Status == models.BorrowStatusReturned {
			return ErrAlreadyReturned
		}

		now := s.clock.Now()
		fine := calculateFine(record.DueDate, now)

		affected, err := s.borrowRepo.MarkReturned(tx, record.ID, now, fine)
		if err != nil {
			log.Printf("[ERROR] ReturnBook: failed to mark borrow %s returned: %v", borrowID, err)
			return err
		}
		if affected == 0 {
			return ErrAlreadyReturned
		}

		if err := s.bookRepo.IncrementCopies(tx, record.BookID, 1); err != nil {
			log.Printf("[ERROR] ReturnBook: failed to increment copies for book %s: %v", record.BookID, err)
			return err
		}

		record.Status = models.BorrowStatusReturned
		record.ReturnDate = &now
		record.FineAmount = fine
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] ReturnBook: borrow %s returned by user %s, fine=%.0f", borrowID, userID, record.FineAmount)

	go s.promoteWaitlist(record.BookID)
	s.logActivity(&userID, "return", fmt.Sprintf("book=%s borrow=%s fine=%.0f", record.BookID, record.ID, record.FineAmount))

	return record, nil
}

// promoteWaitlist notifies the longest-waiting member that a copy of the book
// is back on the shelf. The entry is removed only after the notification
// succeeds; on failure it stays in place and the next return tries again. No
// copy is reserved — the 48-hour window in the message is advisory.
func (s *lendingService) promoteWaitlist(bookID uuid.UUID) {
	entry, err := s.waitlistRepo.PeekNext(nil, bookID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[ERROR] promoteWaitlist: failed to query waitlist for book %s: %v", bookID, err)
		}
		return
	}

	user, err := s.userRepo.GetByID(nil, entry.UserID)
	if err != nil {
		log.Printf("[ERROR] promoteWaitlist: failed to load user %s: %v", entry.UserID, err)
		return
	}
	book, err := s.bookRepo.GetByID(nil, bookID)
	if err != nil {
		log.Printf("[ERROR] promoteWaitlist: failed to load book %s: %v", bookID, err)
		return
	}

	err = s.notifier.Send(
		user.Email,
		fmt.Sprintf("Book Available: %q", book.Title),
		fmt.Sprintf("The book %q you were waiting for is now available. Please borrow it within 48 hours.", book.Title),
	)
	if err != nil {
		log.Printf("[WARN] promoteWaitlist: availability notification failed for user %s / book %s: %v", entry.UserID, bookID, err)
		return
	}

	if err := s.waitlistRepo.DeleteByID(nil, entry.ID); err != nil {
		log.Printf("[ERROR] promoteWaitlist: failed to remove waitlist entry %s: %v", entry.ID, err)
		return
	}
	log.Printf("[INFO] promoteWaitlist: notified user %s for book %s (position %d)", entry.UserID, bookID, entry.Position)
}

// ─── Ledger Queries ───────────────────────────────────────────────────────────

// BorrowHistory returns all of a user's borrow records, newest first.
func (s *lendingService) BorrowHistory(userID uuid.UUID) ([]models.BorrowRecord, error) {
	return s.borrowRepo.ListByUser(nil, userID)
}

// ListActiveBorrows returns every borrowed or overdue record system-wide with
// user and book detail preloaded, for the admin view.
func (s *lendingService) ListActiveBorrows() ([]models.BorrowRecord, error) {
	return s.borrowRepo.ListActiveWithDetail(nil)
}

// DashboardStats collects the admin dashboard counters.
func (s *lendingService) DashboardStats() (*DashboardStats, error) {
	users, err := s.userRepo.CountAll(nil)
	if err != nil {
		return nil, err
	}
	books, err := s.bookRepo.CountAll(nil)
	if err != nil {
		return nil, err
	}
	overdue, err := s.borrowRepo.CountOverdue(nil)
	if err != nil {
		return nil, err
	}
	fines, err := s.borrowRepo.SumFines(nil)
	if err != nil {
		return nil, err
	}
	return &DashboardStats{Users: users, Books: books, Overdue: overdue, TotalFines: fines}, nil
}

// TopBorrowedBooks returns the most-borrowed books by historical borrow count.
// Ties fall back to storage order.
func (s *lendingService) TopBorrowedBooks(limit int) ([]repositories.BookBorrowCount, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.bookRepo.TopBorrowed(nil, limit)
}

// RecommendationsForUser suggests books: the highest-rated titles system-wide
// come first, then books from the genres the user borrows most, de-duplicated
// and capped at limit.
func (s *lendingService) RecommendationsForUser(userID uuid.UUID, limit int) ([]models.Book, error) {
	if limit <= 0 {
		limit = 10
	}

	seen := make(map[uuid.UUID]bool, limit)
	out := make([]models.Book, 0, limit)

	rated, err := s.reviewRepo.TopRatedBooks(nil, limit)
	if err != nil {
		return nil, err
	}
	for _, b := range rated {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		out = append(out, b)
		if len(out) == limit {
			return out, nil
		}
	}

	top, err := s.borrowRepo.TopGenresForUser(nil, userID, 3)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return out, nil
	}

	genres := make([]string, 0, len(top))
	for _, g := range top {
		genres = append(genres, g.Genre)
	}

	books, err := s.bookRepo.ListByGenres(nil, genres, limit*2)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		out = append(out, b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ─── Waitlist ─────────────────────────────────────────────────────────────────

// JoinWaitlist queues a user for a book with no copies left. Positions are
// assigned max+1 per book and never renumbered.
func (s *lendingService) JoinWaitlist(bookID, userID uuid.UUID) (*models.WaitlistEntry, error) {
	var entry *models.WaitlistEntry

	err := s.db.Transaction(func(tx *gorm.DB) error {
		book, err := s.bookRepo.GetByID(tx, bookID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		if book.Copies > 0 {
			return ErrBookStillAvailable
		}

		if _, err := s.waitlistRepo.FindByUserAndBook(tx, userID, bookID); err == nil {
			return ErrAlreadyOnWaitlist
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		entry, err = s.createWaitlistEntryWithRetry(tx, userID, bookID)
		if err != nil {
			log.Printf("[ERROR] JoinWaitlist: failed to create entry for user %s / book %s: %v", userID, bookID, err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[INFO] JoinWaitlist: user %s joined waitlist for book %s at position %d", userID, bookID, entry.Position)
	s.logActivity(&userID, "waitlist_join", fmt.Sprintf("book=%s position=%d", bookID, entry.Position))
	return entry, nil
}

// LeaveWaitlist removes the user's entry for a book. The delete itself is
// idempotent; a zero-row delete surfaces as ErrNotOnWaitlist for the caller.
func (s *lendingService) LeaveWaitlist(bookID, userID uuid.UUID) error {
	affected, err := s.waitlistRepo.DeleteByUserAndBook(nil, userID, bookID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotOnWaitlist
	}
	log.Printf("[INFO] LeaveWaitlist: user %s left waitlist for book %s", userID, bookID)
	s.logActivity(&userID, "waitlist_leave", fmt.Sprintf("book=%s", bookID))
	return nil
}

// createWaitlistEntryWithRetry assigns the next queue position and inserts the
// entry. Two concurrent joins can both read the same max position; the unique
// (book_id, position) index rejects the loser, who recomputes and tries again.
func (s *lendingService) createWaitlistEntryWithRetry(tx *gorm.DB, userID, bookID uuid.UUID) (*models.WaitlistEntry, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		pos, err := s.waitlistRepo.NextPosition(tx, bookID)
		if err != nil {
			return nil, err
		}

		entry := &models.WaitlistEntry{
			UserID:    userID,
			BookID:    bookID,
			Position:  pos,
			CreatedAt: s.clock.Now(),
		}
		// Nested transaction = savepoint, so a rejected insert does not abort
		// the surrounding transaction on postgres.
		err = tx.Transaction(func(inner *gorm.DB) error {
			return s.waitlistRepo.Create(inner, entry)
		})
		if err == nil {
			return entry, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		log.Printf("[WARN] JoinWaitlist: position %d for book %s already taken, retrying", pos, bookID)
		lastErr = err
	}
	return nil, lastErr
}

// WaitlistForBook returns all entries for a book ordered by position, with
// the waiting user preloaded for admin visibility.
func (s *lendingService) WaitlistForBook(bookID uuid.UUID) ([]models.WaitlistEntry, error) {
	return s.waitlistRepo.ListByBookWithUser(nil, bookID)
}

// ─── Reviews ──────────────────────────────────────────────────────────────────

// AddReview records a member's star rating and text for a book. A user may
// review the same book more than once.
func (s *lendingService) AddReview(bookID, userID uuid.UUID, rating int, reviewText string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if _, err := s.userRepo.GetByID(nil, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if _, err := s.bookRepo.GetByID(nil, bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}

	review := &models.Review{
		UserID:     userID,
		BookID:     bookID,
		Rating:     rating,
		ReviewText: reviewText,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.reviewRepo.Create(nil, review); err != nil {
		log.Printf("[ERROR] AddReview: failed to create review for book %s: %v", bookID, err)
		return nil, err
	}
	log.Printf("[INFO] AddReview: user %s rated book %s %d/5", userID, bookID, rating)
	s.logActivity(&userID, "review", fmt.Sprintf("book=%s rating=%d", bookID, rating))
	return review, nil
}

// ReviewsForBook returns a book's reviews, newest first, with the reviewer
// preloaded.
func (s *lendingService) ReviewsForBook(bookID uuid.UUID) ([]models.Review, error) {
	if _, err := s.bookRepo.GetByID(nil, bookID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	return s.reviewRepo.ListByBook(nil, bookID)
}

// UpdateReview changes the rating and text of a review. Only the author may
// edit.
func (s *lendingService) UpdateReview(reviewID, userID uuid.UUID, rating int, reviewText string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	review, err := s.reviewRepo.GetByID(nil, reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	if review.UserID != userID {
		return nil, ErrNotYourReview
	}

	if err := s.reviewRepo.Update(nil, reviewID, rating, reviewText); err != nil {
		log.Printf("[ERROR] UpdateReview: failed to update review %s: %v", reviewID, err)
		return nil, err
	}
	review.Rating = rating
	review.ReviewText = reviewText
	return review, nil
}

// DeleteReview removes a review. The author may delete their own; admins and
// librarians may delete anyone's.
func (s *lendingService) DeleteReview(reviewID, userID uuid.UUID) error {
	review, err := s.reviewRepo.GetByID(nil, reviewID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReviewNotFound
		}
		return err
	}

	if review.UserID != userID {
		actor, err := s.userRepo.GetByID(nil, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if actor.Role != models.UserRoleAdmin && actor.Role != models.UserRoleLibrarian {
			return ErrNotYourReview
		}
	}

	if err := s.reviewRepo.DeleteByID(nil, reviewID); err != nil {
		log.Printf("[ERROR] DeleteReview: failed to delete review %s: %v", reviewID, err)
		return err
	}
	log.Printf("[INFO] DeleteReview: review %s removed by user %s", reviewID, userID)
	return nil
}

// ─── Overdue Sweep ────────────────────────────────────────────────────────────

// SweepOverdue reclassifies past-due borrowed records as overdue and sends
// reminders. Each record is processed independently so one failure cannot
// halt the batch, and the status write is conditioned on the record still
// being borrowed, which makes the sweep idempotent and keeps it from
// reverting a record returned between snapshot and write. The transition
// happens whether or not the reminder was delivered.
func (s *lendingService) SweepOverdue() (*SweepReport, error) {
	today := dateOnly(s.clock.Now())

	candidates, err := s.borrowRepo.FindOverdueCandidates(nil, today)
	if err != nil {
		log.Printf("[ERROR] SweepOverdue: failed to query overdue candidates: %v", err)
		return nil, err
	}

	report := &SweepReport{Candidates: len(candidates)}
	for _, rec := range candidates {
		if err := s.notifier.Send(
			rec.User.Email,
			"Overdue Book Reminder",
			fmt.Sprintf("Your borrowed book, %q, is overdue. Please return it as soon as possible to avoid further fines.", rec.Book.Title),
		); err != nil {
			log.Printf("[WARN] SweepOverdue: reminder failed for borrow %s: %v", rec.ID, err)
			report.NotifyFailures++
		}

		affected, err := s.borrowRepo.MarkOverdueIfBorrowed(nil, rec.ID)
		if err != nil {
			log.Printf("[ERROR] SweepOverdue: failed to mark borrow %s overdue: %v", rec.ID, err)
			continue
		}
		if affected > 0 {
			report.MarkedOverdue++
		}
	}

	log.Printf("[INFO] SweepOverdue: %d candidates, %d marked overdue, %d notify failures",
		report.Candidates, report.MarkedOverdue, report.NotifyFailures)
	return report, nil
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

// logActivity records an audit row best-effort; failures are logged, never
// surfaced.
func (s *lendingService) logActivity(userID *uuid.UUID, action, metadata string) {
	if err := s.activityRepo.Record(nil, userID, action, metadata, s.clock.Now()); err != nil {
		log.Printf("[WARN] logActivity: failed to record %q: %v", action, err)
	}
}

// isUniqueViolation reports whether err is a unique-constraint rejection.
// Postgres surfaces SQLSTATE 23505; sqlite spells it out.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// dateOnly truncates a timestamp to midnight UTC.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ─── Fine Calculation ─────────────────────────────────────────────────────────

// calculateFine computes the overdue fine for a returned book.
//
// Both timestamps are compared at calendar-day precision: returning any time
// on the due date costs nothing, and any part of a later day counts as a full
// day at FinePerDay.
func calculateFine(dueDate, returnedAt time.Time) float64 {
	due := dateOnly(dueDate)
	returned := dateOnly(returnedAt)
	if !returned.After(due) {
		return 0
	}
	daysLate := int(returned.Sub(due).Hours() / 24)
	return float64(daysLate) * FinePerDay
}
