package store

import (
	"context"
	"errors"
	"time"

	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAssignment reports a uniqueness or exclusivity violation.
	// The transaction that hit it is rolled back.
	ErrDuplicateAssignment = errors.New("duplicate assignment")
)

// Store runs units of work. Everything fn does through the Tx is committed
// together, or not at all when fn returns an error.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	CreateLecture(ctx context.Context, lecture Lecture) (Lecture, error)
	GetLecture(ctx context.Context, id int64) (Lecture, error)
	ListLectures(ctx context.Context) ([]Lecture, error)
	// BumpLecture raises modified_at to at if it is later, and returns the
	// resulting value.
	BumpLecture(ctx context.Context, id int64, at time.Time) (time.Time, error)

	// EnsureArticle returns the article for the division, creating it when
	// missing.
	EnsureArticle(ctx context.Context, lectureID int64, subdiv division.SubDiv) (Article, bool, error)
	GetArticle(ctx context.Context, id int64) (Article, error)
	GetArticleByDivision(ctx context.Context, lectureID int64, subdiv division.SubDiv) (Article, error)
	ListArticles(ctx context.Context, lectureID int64) ([]Article, error)
	UpdateArticle(ctx context.Context, article Article) error
	TouchArticle(ctx context.Context, id int64, at time.Time) error

	InsertAmendement(ctx context.Context, amendement Amendement) (Amendement, error)
	// UpdateAmendement writes every column except the location.
	UpdateAmendement(ctx context.Context, amendement Amendement) error
	GetAmendement(ctx context.Context, id int64) (Amendement, error)
	GetAmendementByNum(ctx context.Context, lectureID int64, num int) (Amendement, error)
	ListAmendements(ctx context.Context, lectureID int64) ([]Amendement, error)
	// LockAmendement reads the amendement and holds its row until the end of
	// the transaction.
	LockAmendement(ctx context.Context, id int64) (Amendement, error)
	SetLocation(ctx context.Context, amendementID int64, location Location) error
	TouchAmendement(ctx context.Context, id int64, at time.Time) error
	// ModifiedSince lists the numbers of the lecture's amendements modified
	// at or after threshold, in ascending order.
	ModifiedSince(ctx context.Context, lectureID int64, threshold time.Time) ([]int, error)

	EnsureUser(ctx context.Context, email, name string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserRole(ctx context.Context, id int64, role string) error

	EnsureUserTable(ctx context.Context, userID, lectureID int64) (UserTable, error)
	GetUserTable(ctx context.Context, id int64) (UserTable, error)
	CreateSharedTable(ctx context.Context, table SharedTable) (SharedTable, error)
	GetSharedTable(ctx context.Context, id int64) (SharedTable, error)
	GetSharedTableBySlug(ctx context.Context, lectureID int64, slug string) (SharedTable, error)
	ListSharedTables(ctx context.Context, lectureID int64) ([]SharedTable, error)

	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	SetBatchOwner(ctx context.Context, id int64, userTableID *int64) error
	DeleteBatch(ctx context.Context, id int64) error
	// BatchMembers lists the amendements located in the batch by number.
	BatchMembers(ctx context.Context, batchID int64) ([]Amendement, error)

	// AppendEvent stores the event and returns it with its sequence number.
	AppendEvent(ctx context.Context, event events.Event) (events.Event, error)
	// ListEvents returns the journal oldest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error)
}
