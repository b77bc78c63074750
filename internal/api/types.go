package api

import "time"

// Category values accepted by the board. An empty category means "no category".
const (
	CategoryAdvice     = "advice"
	CategoryConfession = "confession"
	CategoryFun        = "fun"
)

// Categories lists the known message categories in display order.
var Categories = []string{CategoryAdvice, CategoryConfession, CategoryFun}

// Campuses lists the campuses a message can be posted to.
var Campuses = []string{"Main Campus", "Bulan", "Magallanes", "Castilla", "Baribag"}

// IsCategory reports whether c is a known category.
func IsCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsCampus reports whether c is a known campus.
func IsCampus(c string) bool {
	for _, known := range Campuses {
		if c == known {
			return true
		}
	}
	return false
}

// Message is an anonymous board message
type Message struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Category   *string   `json:"category"` // nil when posted without a category
	Campus     string    `json:"campus,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LikesCount int       `json:"likes_count"`
	IsDeleted  *bool     `json:"is_deleted,omitempty"` // only present in moderation views
}

// CategoryName returns the category or "" when absent.
func (m Message) CategoryName() string {
	if m.Category == nil {
		return ""
	}
	return *m.Category
}

// Deleted reports the server soft-delete flag; absent means active.
func (m Message) Deleted() bool {
	return m.IsDeleted != nil && *m.IsDeleted
}

// Announcement is an admin-authored notice shown above the feed
type Announcement struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdminProfile identifies the logged-in moderator
type AdminProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoginResult is the payload of a successful admin login
type LoginResult struct {
	Token string       `json:"token"`
	Admin AdminProfile `json:"admin"`
}

// PageMeta describes the position of a page within a paginated listing
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page,omitempty"`
	Total       int `json:"total"`
}

// MessagePage is one page of messages
type MessagePage struct {
	Data []Message `json:"data"`
	Meta PageMeta  `json:"meta"`
}

// MessageQuery filters the public feed
type MessageQuery struct {
	Category string
	Campus   string
	Page     int
}

// AdminMessageQuery filters the moderation listing. IsDeleted is "", "true" or "false".
type AdminMessageQuery struct {
	Category  string
	IsDeleted string
	Page      int
}

// NewMessage is the body of POST /messages
type NewMessage struct {
	Content  string  `json:"content"`
	Category *string `json:"category,omitempty"`
	Campus   string  `json:"campus"`
}

// NewAnnouncement is the body of POST /admin/announcements
type NewAnnouncement struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	IsActive bool   `json:"is_active"`
}

// AnnouncementPatch is the body of PUT /admin/announcements/{id}; nil fields are left unchanged.
type AnnouncementPatch struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}
