package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
)

var ErrDocumentNotFound = errors.New("document not found")

type Document struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	OwnerID   uint64 `gorm:"index"`
	Title     string `gorm:"type:varchar(255);uniqueIndex"`
	Archived  bool   `gorm:"default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// AutoMigrate 创建/更新 documents 表
func (s *DocumentStore) AutoMigrate() error {
	return s.db.AutoMigrate(&Document{})
}

func (s *DocumentStore) GetDocumentID(ctx context.Context, title string) (string, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("title = ?", title).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrDocumentNotFound
		}
		return "", err
	}
	return strconv.FormatUint(doc.ID, 10), nil
}

// CreateDocument 新建文档并返回其 ID
func (s *DocumentStore) CreateDocument(ctx context.Context, ownerID uint64, title string) (string, error) {
	doc := Document{OwnerID: ownerID, Title: title}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return "", err
	}
	return strconv.FormatUint(doc.ID, 10), nil
}
