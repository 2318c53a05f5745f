package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
}

// Membership links a user to an organization. Organization ids are opaque
// tenant identifiers; there is no organizations table of our own.
type Membership struct {
	UserID    string
	OrgID     string
	OrgName   string
	Role      string
	CreatedAt time.Time
}

type Board struct {
	ID            string
	OrgID         string
	Title         string
	ImageID       string
	ImageThumbURL string
	ImageFullURL  string
	ImageLinkHTML string
	ImageUserName string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// List is an ordered column on a board. Order is unique among the lists of
// one board and defines display order ascending.
type List struct {
	ID        string
	BoardID   string
	Title     string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Card is an ordered item in a list. Order is unique among the cards of one
// list. ListTitle is populated only by GetCard for display purposes.
type Card struct {
	ID          string
	ListID      string
	Title       string
	Description string
	Order       int
	ListTitle   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Entity types and actions recorded in the audit log.
const (
	EntityBoard = "BOARD"
	EntityList  = "LIST"
	EntityCard  = "CARD"

	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// AuditLogEntry is append-only; rows are never updated or deleted (enforced
// by a database trigger).
type AuditLogEntry struct {
	ID          string
	OrgID       string
	EntityID    string
	EntityType  string
	EntityTitle string
	Action      string
	UserID      string
	UserName    string
	UserImage   string
	CreatedAt   time.Time
}

// ListPosition is one row of a client-supplied list ordering.
type ListPosition struct {
	ID    string
	Order int
}

// CardPosition is one row of a client-supplied card ordering. ListID is the
// card's destination list, which may differ from its current one.
type CardPosition struct {
	ID     string
	Order  int
	ListID string
}
