package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden is returned when a user may not modify a record.
	ErrForbidden = errors.New("operation not permitted")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Repository provides access to helpdesk storage.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(
		&helpdesk.User{},
		&helpdesk.Message{},
		&helpdesk.FrequentContact{},
		&helpdesk.PresenceLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CreateUser saves a new user.
func (r *Repository) CreateUser(ctx context.Context, user *helpdesk.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByIdentity retrieves a user by ID.
func (r *Repository) FindUserByIdentity(ctx context.Context, id uint) (*helpdesk.User, error) {
	var user helpdesk.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// InsertMessage persists a message. The id and creation time are assigned here.
func (r *Repository) InsertMessage(ctx context.Context, sender, receiver uint, body string, msgType helpdesk.MessageType) (*helpdesk.Message, error) {
	msg := &helpdesk.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		Type:       msgType,
		CreatedAt:  r.now(),
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// UpsertFrequentContact records that user contacted contact.
func (r *Repository) UpsertFrequentContact(ctx context.Context, user, contact uint) error {
	now := r.now()
	fc := helpdesk.FrequentContact{
		UserID:        user,
		ContactID:     contact,
		ContactCount:  1,
		LastContactAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "contact_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"contact_count":   gorm.Expr("contact_count + 1"),
			"last_contact_at": now,
		}),
	}).Create(&fc).Error
	if err != nil {
		return fmt.Errorf("failed to upsert frequent contact: %w", err)
	}
	return nil
}

// UpdateLastActivity stamps the user's last activity and online flag.
func (r *Repository) UpdateLastActivity(ctx context.Context, user uint, isOnline bool) error {
	result := r.db.WithContext(ctx).Model(&helpdesk.User{}).Where("id = ?", user).Updates(map[string]any{
		"last_activity": r.now(),
		"is_online":     isOnline,
	})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update last activity: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOnlineUsers returns active online users other than excluding.
func (r *Repository) ListOnlineUsers(ctx context.Context, excluding uint) ([]helpdesk.User, error) {
	var users []helpdesk.User
	err := r.db.WithContext(ctx).
		Where("is_online = ? AND is_active = ? AND id <> ?", true, true, excluding).
		Order("name ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	return users, nil
}

// MessageHistory returns up to limit messages exchanged between a and b,
// oldest first. When before is non-zero only messages with a smaller id are
// returned, which pages backwards through the conversation.
func (r *Repository) MessageHistory(ctx context.Context, a, b, before uint, limit int) ([]helpdesk.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	q := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
	if before > 0 {
		q = q.Where("id < ?", before)
	}

	var messages []helpdesk.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load message history: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// MarkRead sets the read timestamp of a message addressed to reader. Marking
// an already read message keeps the first timestamp.
func (r *Repository) MarkRead(ctx context.Context, messageID, reader uint) (*helpdesk.Message, error) {
	var msg helpdesk.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&msg, "id = ?", messageID).Error; err != nil {
			return err
		}
		if msg.ReceiverID != reader {
			return ErrForbidden
		}
		if msg.ReadAt != nil {
			return nil
		}
		now := r.now()
		if err := tx.Model(&msg).Update("read_at", now).Error; err != nil {
			return err
		}
		msg.ReadAt = &now
		return nil
	})
	switch {
	case err == nil:
		return &msg, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case errors.Is(err, ErrForbidden):
		return nil, ErrForbidden
	default:
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}
}

// ListFrequentContacts returns the user's contacts, most recent first.
func (r *Repository) ListFrequentContacts(ctx context.Context, user uint, limit int) ([]helpdesk.FrequentContact, error) {
	if limit <= 0 {
		limit = 20
	}
	var contacts []helpdesk.FrequentContact
	err := r.db.WithContext(ctx).
		Where("user_id = ?", user).
		Order("last_contact_at DESC").
		Limit(limit).
		Find(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list frequent contacts: %w", err)
	}
	return contacts, nil
}

// RecordPresence appends a presence transition to the log.
func (r *Repository) RecordPresence(ctx context.Context, user uint, status string, at time.Time) error {
	entry := helpdesk.PresenceLog{UserID: user, Status: status, At: at.UTC()}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

// LastSeen returns when the user last went offline.
func (r *Repository) LastSeen(ctx context.Context, user uint) (time.Time, error) {
	var entry helpdesk.PresenceLog
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", user, "offline").
		Order("at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to load last seen: %w", err)
	}
	return entry.At, nil
}
