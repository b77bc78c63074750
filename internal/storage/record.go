package storage

import (
	"time"

	"github.com/renderinc/sonymous/internal/api"
)

// MessageRecord is a board message mirrored locally
type MessageRecord struct {
	ID         int64      `db:"id"`
	Content    string     `db:"content"`
	Category   string     `db:"category"` // empty when uncategorized
	Campus     string     `db:"campus"`
	LikesCount int        `db:"likes_count"`
	CreatedAt  time.Time  `db:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at"` // NULL while active
	SyncedAt   time.Time  `db:"synced_at"`  // When we last saw it
}

// RecordFromMessage converts an API message. campus fills in the campus when the
// listing was already filtered by it and the server omitted the field.
func RecordFromMessage(m api.Message, campus string, now time.Time) *MessageRecord {
	rec := &MessageRecord{
		ID:         m.ID,
		Content:    m.Content,
		Category:   m.CategoryName(),
		Campus:     m.Campus,
		LikesCount: m.LikesCount,
		CreatedAt:  m.CreatedAt,
		SyncedAt:   now,
	}
	if rec.Campus == "" {
		rec.Campus = campus
	}
	if m.Deleted() {
		rec.DeletedAt = &now
	}
	return rec
}
