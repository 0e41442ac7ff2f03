// Package store persists chats, messages, documents and suggestions in
// Postgres. Batch writes are all-or-nothing; ownership checks are the
// caller's responsibility except where noted.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/draftpad-ai/draftpad-backend/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyExists is returned on a primary key collision at creation.
	ErrAlreadyExists = errors.New("store: already exists")
)

// ChatRecord is the chats table row.
type ChatRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	OwnerID   string    `gorm:"type:uuid;not null;index"`
	Title     string    `gorm:"size:256;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ChatRecord) TableName() string { return "chats" }

// MessageRecord is the messages table row. Content is the normalized
// string form produced by the codec.
type MessageRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	ChatID    string    `gorm:"type:uuid;not null;index"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (MessageRecord) TableName() string { return "messages" }

// DocumentRecord is the documents table row.
type DocumentRecord struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Title     string    `gorm:"size:256;not null"`
	Content   string    `gorm:"type:text;not null"`
	OwnerID   string    `gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (DocumentRecord) TableName() string { return "documents" }

// SuggestionRecord is the suggestions table row.
type SuggestionRecord struct {
	ID                string    `gorm:"type:uuid;primaryKey"`
	DocumentID        string    `gorm:"type:uuid;not null;index"`
	DocumentCreatedAt time.Time `gorm:"not null"`
	OriginalText      string    `gorm:"type:text;not null"`
	SuggestedText     string    `gorm:"type:text;not null"`
	Description       string    `gorm:"type:text"`
	IsResolved        bool      `gorm:"not null;default:false"`
	OwnerID           string    `gorm:"type:uuid;not null;index"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (SuggestionRecord) TableName() string { return "suggestions" }

// Store provides CRUD over the transcript tables.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&ChatRecord{}, &MessageRecord{}, &DocumentRecord{}, &SuggestionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetChat retrieves a chat by id.
func (s *Store) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var rec ChatRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &model.Chat{ID: rec.ID, OwnerID: rec.OwnerID, Title: rec.Title, CreatedAt: rec.CreatedAt}, nil
}

// CreateChat inserts a new chat. Returns ErrAlreadyExists on id collision.
func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	rec := ChatRecord{ID: chat.ID, OwnerID: chat.OwnerID, Title: chat.Title, CreatedAt: chat.CreatedAt}
	err := s.db.WithContext(ctx).Create(&rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// ListChats returns the chats owned by a user, most recent first.
func (s *Store) ListChats(ctx context.Context, ownerID string) ([]model.Chat, error) {
	var recs []ChatRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	chats := make([]model.Chat, 0, len(recs))
	for _, rec := range recs {
		chats = append(chats, model.Chat{ID: rec.ID, OwnerID: rec.OwnerID, Title: rec.Title, CreatedAt: rec.CreatedAt})
	}
	return chats, nil
}

// SaveMessages writes a batch of messages in one transaction.
func (s *Store) SaveMessages(ctx context.Context, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	recs := make([]MessageRecord, 0, len(messages))
	for _, msg := range messages {
		recs = append(recs, MessageRecord{
			ID:        msg.ID,
			ChatID:    msg.ChatID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to save messages: %w", err)
	}
	return nil
}

// ListMessages returns a chat's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var recs []MessageRecord
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	messages := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		messages = append(messages, model.Message{
			ID:        rec.ID,
			ChatID:    rec.ChatID,
			Role:      model.Role(rec.Role),
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		})
	}
	return messages, nil
}

// DeleteChat removes a chat together with its messages. No orphaned
// messages survive the call.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&MessageRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Delete(&ChatRecord{}, "id = ?", chatID).Error; err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		return nil
	})
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &model.Document{
		ID:        rec.ID,
		Title:     rec.Title,
		Content:   rec.Content,
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// SaveDocument upserts a document, replacing content wholesale.
func (s *Store) SaveDocument(ctx context.Context, doc *model.Document) error {
	rec := DocumentRecord{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		OwnerID:   doc.OwnerID,
		CreatedAt: doc.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// SaveSuggestions writes a batch of suggestions in one transaction.
func (s *Store) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	recs := make([]SuggestionRecord, 0, len(suggestions))
	for _, sug := range suggestions {
		recs = append(recs, SuggestionRecord{
			ID:                sug.ID,
			DocumentID:        sug.DocumentID,
			DocumentCreatedAt: sug.DocumentCreatedAt,
			OriginalText:      sug.OriginalText,
			SuggestedText:     sug.SuggestedText,
			Description:       sug.Description,
			IsResolved:        sug.IsResolved,
			OwnerID:           sug.OwnerID,
			CreatedAt:         sug.CreatedAt,
		})
	}
	if err := s.db.WithContext(ctx).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to save suggestions: %w", err)
	}
	return nil
}
