package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRole string

const (
	UserRoleAdmin     UserRole = "admin"
	UserRoleLibrarian UserRole = "librarian"
	UserRoleMember    UserRole = "member"
)

type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "borrowed"
	BorrowStatusReturned BorrowStatus = "returned"
	BorrowStatusOverdue  BorrowStatus = "overdue"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Role      UserRole  `gorm:"size:32;not null;default:member" json:"role"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type Book struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Author      string    `gorm:"size:255;not null" json:"author"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Genre       string    `gorm:"size:255;index" json:"genre,omitempty"`
	// Copies is the number of currently lendable units and the single source
	// of truth for availability. Must never go negative.
	Copies     int       `gorm:"not null;default:0" json:"copies"`
	CoverImage string    `gorm:"size:255" json:"cover_image,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

type BorrowRecord struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	User       User         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BookID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"book_id"`
	Book       Book         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BorrowDate time.Time    `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time    `gorm:"not null" json:"due_date"`
	ReturnDate *time.Time   `json:"return_date"`
	Status     BorrowStatus `gorm:"size:32;not null;default:borrowed;index" json:"status"`
	FineAmount float64      `gorm:"not null;default:0" json:"fine_amount"`
}

type WaitlistEntry struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_waitlist_user_book" json:"user_id"`
	User   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BookID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_waitlist_user_book;uniqueIndex:uniq_waitlist_book_position" json:"book_id"`
	Book   Book      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	// Position is 1-based and strictly increasing per book; gaps left by
	// departures are never renumbered. The (book_id, position) unique index
	// rejects the slot when two concurrent joins compute the same max+1.
	Position  int       `gorm:"not null;uniqueIndex:uniq_waitlist_book_position" json:"position"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

type Review struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User   User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BookID uuid.UUID `gorm:"type:uuid;not null;index" json:"book_id"`
	Book   Book      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	// Rating is a star rating, 1 through 5.
	Rating     int       `gorm:"not null" json:"rating"`
	ReviewText string    `gorm:"type:text" json:"review_text"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

type ActivityLog struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	User      *User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"`
	Action    string     `gorm:"size:255;not null" json:"action"`
	Metadata  string     `gorm:"type:text" json:"metadata,omitempty"`
	Timestamp time.Time  `gorm:"not null" json:"timestamp"`
}

// BeforeCreate hooks assign IDs client-side so the models also work against
// stores without the uuid_generate_v4() default (e.g. the sqlite test fixture).

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (r *BorrowRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (w *WaitlistEntry) BeforeCreate(*gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (a *ActivityLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (r *Review) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
