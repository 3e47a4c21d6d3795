package edgecache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/agenthands/wikigraph/internal/core/identity"
	"github.com/agenthands/wikigraph/internal/core/model"
	"github.com/agenthands/wikigraph/internal/logger"
)

// GormStore keeps edges in the `cached_edges` table and identity counters in
// `users`.
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger: gormLogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	}
}

func OpenPostgres(dsn string, log *logger.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return NewGormStore(db, log), nil
}

// OpenSQLite opens a file-backed store. A single connection serializes
// writers so concurrent inserts never hit SQLITE_BUSY.
func OpenSQLite(path string, log *logger.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_journal_mode=WAL"), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return NewGormStore(db, log), nil
}

func NewGormStore(db *gorm.DB, log *logger.Logger) *GormStore {
	return &GormStore{db: db, log: log.With("component", "edge_cache")}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.CachedEdge{}, &model.Identity{})
}

func (s *GormStore) QueryTouching(ctx context.Context, ids []int64) ([]model.CachedEdge, error) {
	ids = identity.DedupeIDs(ids)
	seen := make(map[model.Pair]struct{})
	var out []model.CachedEdge
	for _, chunk := range chunkIDs(ids) {
		var rows []model.CachedEdge
		err := s.db.WithContext(ctx).
			Where("source_id IN ? OR target_id IN ?", chunk, chunk).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("query cached edges: %w", err)
		}
		for _, r := range rows {
			if _, dup := seen[r.Pair()]; dup {
				continue
			}
			seen[r.Pair()] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *GormStore) InsertIfAbsent(ctx context.Context, e model.CachedEdge) (bool, error) {
	e, err := canonicalize(e)
	if err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&e)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("insert cached edge (%d,%d): %w", e.SourceID, e.TargetID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) IncrementEdgesDiscovered(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	return s.bump(ctx, id, "edges_discovered", n)
}

func (s *GormStore) IncrementSearches(ctx context.Context, id uuid.UUID) error {
	return s.bump(ctx, id, "total_searches", 1)
}

func (s *GormStore) bump(ctx context.Context, id uuid.UUID, column string, n int) error {
	res := s.db.WithContext(ctx).
		Model(&model.Identity{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", n))
	if res.Error != nil {
		return fmt.Errorf("increment %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		s.log.Debug("identity not found, counter unchanged", "identity", id, "column", column)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
