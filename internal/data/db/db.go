package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/moises-m-limon/mangalytics/internal/platform/envutil"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver      string
	DSN         string
	SQLitePath  string
	MaxOpenConn int
}

func ConfigFromEnv() Config {
	cfg := Config{
		Driver:      strings.ToLower(envutil.String("DB_DRIVER", DriverPostgres)),
		DSN:         envutil.String("DATABASE_URL", ""),
		SQLitePath:  envutil.String("SQLITE_PATH", "mangalytics.db"),
		MaxOpenConn: envutil.Int("DB_MAX_OPEN_CONNS", 10),
	}
	if cfg.DSN == "" && cfg.Driver == DriverPostgres {
		cfg.DSN = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			envutil.String("POSTGRES_USER", "postgres"),
			envutil.String("POSTGRES_PASSWORD", ""),
			envutil.String("POSTGRES_HOST", "localhost"),
			envutil.String("POSTGRES_PORT", "5432"),
			envutil.String("POSTGRES_NAME", "mangalytics"),
			envutil.String("POSTGRES_SSLMODE", "disable"),
		)
	}
	return cfg
}

type Service struct {
	db     *gorm.DB
	log    *logger.Logger
	driver string
}

// Open connects to the configured database and migrates the schema.
func Open(logg *logger.Logger, cfg Config) (*Service, error) {
	serviceLog := logg.With("service", "DatabaseService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres, "":
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite %q: %w", cfg.SQLitePath, err)
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER=%q (allowed: %q, %q)", cfg.Driver, DriverPostgres, DriverSQLite)
	}

	if sqlDB, err := db.DB(); err == nil {
		maxOpen := cfg.MaxOpenConn
		if cfg.Driver == DriverSQLite || maxOpen <= 0 {
			maxOpen = 1
		}
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	if err := AutoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	serviceLog.Info("Database ready", "driver", cfg.Driver)
	return &Service{db: db, log: serviceLog, driver: cfg.Driver}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
