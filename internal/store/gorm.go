package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// GormStore implements Repository on a relational database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database at dsn and migrates it.
func OpenSQLite(dsn string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return NewGormStore(db)
}

// OpenMySQL connects to MySQL using dsn and migrates the schema.
func OpenMySQL(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&chat.User{}, &chat.Turn{}, &chat.MoodLog{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (s *GormStore) GetOrCreateUser(ctx context.Context, sessionID string) (*chat.User, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	var u chat.User
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 并发请求可能同时创建，冲突时忽略后重新读取
	fresh := chat.NewUser(sessionID, s.now())
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(fresh).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) AppendTurn(ctx context.Context, turn *chat.Turn) error {
	if turn == nil || turn.SessionID == "" {
		return ErrSessionRequired
	}
	if turn.ID == "" {
		turn.ID = chat.NewID()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(turn).Error
}

func (s *GormStore) AppendMoodLog(ctx context.Context, log *chat.MoodLog) error {
	if log == nil || log.SessionID == "" {
		return ErrSessionRequired
	}
	if log.ID == "" {
		log.ID = chat.NewID()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(log).Error
}

func (s *GormStore) History(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	var turns []chat.Turn
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(normalizeLimit(limit, chat.HistoryLimit)).
		Find(&turns).Error; err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *GormStore) RecentMoodLogs(ctx context.Context, sessionID string, limit int) ([]chat.MoodLog, error) {
	var logs []chat.MoodLog
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(normalizeLimit(limit, chat.DefaultMoodLogLimit)).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *GormStore) TouchActivity(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	res := s.db.WithContext(ctx).Model(&chat.User{}).
		Where("session_id = ? AND (last_active IS NULL OR last_active < ?)", sessionID, dayStart).
		Updates(map[string]any{
			"days_active": gorm.Expr("days_active + ?", 1),
			"last_active": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&chat.User{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *GormStore) Profile(ctx context.Context, sessionID string) (*chat.Profile, error) {
	var u chat.User
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var moods int64
	if err := s.db.WithContext(ctx).Model(&chat.MoodLog{}).Where("session_id = ?", sessionID).Count(&moods).Error; err != nil {
		return nil, err
	}
	return chat.BuildProfile(&u, int(moods)), nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
