// Package sql 把已投递的邮件副本写入关系数据库（PostgreSQL、MySQL、SQLite）
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
)

// 支持的数据库类型
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Store SQL 持久化存储，只写不读
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	pool   *pgxpool.Pool // 仅 postgres
	driver string
	log    *zap.Logger
}

// Open 按配置打开数据库并迁移 stored_messages 表
func Open(cfg config.PersistConfig, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	store := &Store{driver: cfg.Type, log: log}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DriverPostgres:
		pool, err := openPgxPool(cfg)
		if err != nil {
			return nil, err
		}
		store.pool = pool
		dialector = postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)})
	case DriverMySQL:
		dsn, err := NormalizeMySQLDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", cfg.Type)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		store.closePool()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store.db = db

	sqlDB, err := db.DB()
	if err != nil {
		store.closePool()
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	store.sqlDB = sqlDB

	if cfg.Type == DriverSQLite {
		// SQLite 只允许一个写连接
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Migrate(db); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("persistence database ready", zap.String("driver", cfg.Type))
	return store, nil
}

// openPgxPool 创建 PostgreSQL 连接池
func openPgxPool(cfg config.PersistConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NormalizeMySQLDSN 确保 MySQL DSN 开启 parseTime 并使用 utf8mb4
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}

// Migrate 创建或更新 stored_messages 表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.StoredMessage{})
}

// Write 写入一条记录
func (s *Store) Write(ctx context.Context, msg *domain.StoredMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert stored message: %w", err)
	}
	return nil
}

// Count 某个邮箱已持久化的记录数
func (s *Store) Count(ctx context.Context, inboxID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.StoredMessage{}).Where("inbox_id = ?", inboxID).Count(&n).Error
	return n, err
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	if s.sqlDB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	var err error
	if s.sqlDB != nil {
		err = s.sqlDB.Close()
	}
	s.closePool()
	return err
}

func (s *Store) closePool() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
