// Package services – ChatroomService
//
// ChatroomService manages the lifecycle of chatrooms. Listing is served
// through the read-through cache under chatrooms:<userID>; creating a room
// deletes that key so the next list sees it.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/cache"
	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

// ChatroomRepo defines the repository contract required by ChatroomService.
type ChatroomRepo interface {
	// CreateChatroom inserts a new chatroom for the given user.
	CreateChatroom(ctx context.Context, db *gorm.DB, userID uint, name string) (*domain.Chatroom, error)

	// ListChatrooms returns the user's chatrooms, newest first.
	ListChatrooms(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chatroom, error)

	// GetChatroomWithMessages fetches a chatroom owned by userID with its
	// messages in creation order.
	GetChatroomWithMessages(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chatroom, error)
}

// ChatroomService provides chatroom-level operations and enforces
// ownership.
type ChatroomService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chatroom repository used by this service.
	Repo ChatroomRepo
	// Cache holds serialized chatroom lists. Nil disables caching.
	Cache cache.Cache
	// CacheTTL is the lifetime of a cached list.
	CacheTTL time.Duration

	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
}

// NewChatroomService constructs a ChatroomService with default name handling
// and a 600s list cache.
func NewChatroomService(db *gorm.DB, r ChatroomRepo, c cache.Cache) *ChatroomService {
	return &ChatroomService{
		DB:         db,
		Repo:       r,
		Cache:      c,
		CacheTTL:   600 * time.Second,
		NameMaxLen: 255,
	}
}

// Create inserts a new chatroom owned by userID and invalidates the user's
// cached list.
func (s *ChatroomService) Create(ctx context.Context, userID uint, name string) (*domain.Chatroom, error) {
	name = normalizeName(name)
	if name == "" {
		name = "New chatroom"
	}
	room, err := s.Repo.CreateChatroom(ctx, s.DB, userID, s.clip(name))
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		cache.Invalidate(ctx, s.Cache, cache.ChatroomsKey(userID))
	}
	return room, nil
}

// List returns the user's chatrooms, newest first.
func (s *ChatroomService) List(ctx context.Context, userID uint) ([]domain.Chatroom, error) {
	load := func(ctx context.Context) ([]domain.Chatroom, error) {
		return s.Repo.ListChatrooms(ctx, s.DB, userID)
	}
	if s.Cache == nil {
		return load(ctx)
	}
	return cache.ReadThrough(ctx, s.Cache, cache.ChatroomsKey(userID), s.CacheTTL, load)
}

// Get returns a chatroom with its messages, or ErrChatroomNotFound.
func (s *ChatroomService) Get(ctx context.Context, userID, id uint) (*domain.Chatroom, error) {
	room, err := s.Repo.GetChatroomWithMessages(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatroomNotFound
	}
	return room, err
}

// clip truncates a name to the configured maximum rune length.
func (s *ChatroomService) clip(name string) string {
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return string([]rune(name)[:s.NameMaxLen])
	}
	return name
}

// normalizeName applies NFC, trims whitespace and collapses inner runs of
// whitespace to one space.
func normalizeName(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
