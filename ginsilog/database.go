package ginsilog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	dbTypeSQLite                              = "sqlite"
	dbTypePostgres                            = "postgres"
	postgresNotifyChannelRuntimeConfigUpdated = "ginsilog_reload_runtime_config"
	postgresNotifyChannelSettingsUpdated      = "ginsilog_reload_settings"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
		"pragma busy_timeout = 5000;",
	}
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
	dbNotifierRetryDelay  = 5 * time.Second
)

// ModelUnixTime is an embeddable model with creation and update
// timestamps, stored as unix milliseconds.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// DBI wraps write operations on the database. With SQLite, writes are
// serialized through a mutex. Every operation gets a default timeout
// when the given context has no deadline.
type DBI interface {
	DB() *gorm.DB
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Delete(ctx context.Context, value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)
}

type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewDatabase wraps db in a DBI. When enableConcurrentWrites is false,
// writes are serialized.
func NewDatabase(db *gorm.DB, log *slog.Logger, enableConcurrentWrites bool) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// withTimeout returns a context with dbOperationTimeout applied, unless
// ctx already has a deadline
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (int64, error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (int64, error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	rv := db.Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (int64, error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(ctx context.Context, value any, conds ...any) (int64, error) {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	defer d.lock()()
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

func migrateModels() []any {
	return []any{
		&User{},
		&ConversationMessage{},
		&BlackjackGame{},
		&AutoTTSChannel{},
		&BannedWord{},
		&RoleSuffix{},
		&RuntimeConfig{},
	}
}

// CreateDB opens the database and migrates all models.
//
// Parameters:
//   - ctx: The context for the database operations.
//   - databaseType: The type of the database, must be 'sqlite' or 'postgres'.
//   - database: The database connection string, or SQLite file path.
//   - handler: Handler used for gorm's logs. If nil, a WARN-level tint
//     handler is used.
//   - slowThreshold: Queries slower than this are logged as warnings.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	if handler == nil {
		handler = tint.NewHandler(
			defaultLogWriter,
			&tint.Options{Level: slog.LevelWarn, AddSource: true},
		)
	}

	dbLogger := slog.New(handler).With(loggerNameKey, "database")
	dbLogger.InfoContext(ctx, "initializing database", "database_type", databaseType)

	db, err := getDB(databaseType, database, newGORMLogger(handler, slowThreshold))
	if err != nil {
		return nil, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, e := db.DB()
		if e != nil {
			return nil, e
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if e = db.WithContext(ctx).Exec(pragma).Error; e != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, e)
			}
		}
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.Migrator().AutoMigrate(migrateModels()...)
		},
	)
	if err != nil {
		return db, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// getDB opens a gorm connection for the given database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, err
			}
		}
		return gorm.Open(sqlite.Open(database), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), cfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// DBNotifier tells bot instances sharing a database to reload state
// after it's been changed.
type DBNotifier interface {
	// ID identifies this notifier, so it can ignore its own notifications
	ID() string

	RuntimeConfigChannelName() string

	// ReloadRuntimeConfig asks every instance to reload RuntimeConfig
	ReloadRuntimeConfig(ctx context.Context) bool

	SettingsChannelName() string

	// ReloadSettings asks every instance to reload role suffixes and
	// banned words
	ReloadSettings(ctx context.Context) bool

	// Listen blocks, forwarding notifications on the given channel until
	// ctx is done
	Listen(ctx context.Context, channel string) error
}

// newDBNotifier returns a notifier for the database type. Each entry in
// triggers receives a value when its channel is notified.
func newDBNotifier(
	databaseType string,
	dsn string,
	writeDB DBI,
	logger *slog.Logger,
	triggers map[string]chan bool,
) (DBNotifier, error) {
	log := logger.With(loggerNameKey, "db_notifier")
	notifyID := uuid.NewString()

	switch databaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{
			logger:   log,
			notifyID: notifyID,
			triggers: triggers,
		}, nil
	case dbTypePostgres:
		return &postgresNotifier{
			logger:   log,
			notifyID: notifyID,
			dsn:      dsn,
			writeDB:  writeDB,
			triggers: triggers,
		}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sendTrigger delivers a refresh signal, giving up when ctx is done or
// after dbNotifierSendTimeout.
func sendTrigger(ctx context.Context, log *slog.Logger, ch chan bool, channel string) bool {
	if ch == nil {
		log.Warn("no trigger registered", "channel", channel)
		return false
	}
	select {
	case ch <- true:
		return true
	case <-ctx.Done():
		log.Warn("context done sending refresh signal", "channel", channel)
	case <-time.After(dbNotifierSendTimeout):
		log.Warn("timed out sending refresh signal", "channel", channel)
	}
	return false
}

// sqliteNotifier is used with a single instance, so notifications go
// straight to the local trigger channels
type sqliteNotifier struct {
	logger   *slog.Logger
	notifyID string
	triggers map[string]chan bool
}

func (s *sqliteNotifier) ID() string {
	return s.notifyID
}

func (sqliteNotifier) RuntimeConfigChannelName() string {
	return postgresNotifyChannelRuntimeConfigUpdated
}

func (sqliteNotifier) SettingsChannelName() string {
	return postgresNotifyChannelSettingsUpdated
}

func (s *sqliteNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	s.logger.InfoContext(ctx, "runtime config reload requested")
	channel := s.RuntimeConfigChannelName()
	return sendTrigger(ctx, s.logger, s.triggers[channel], channel)
}

func (s *sqliteNotifier) ReloadSettings(ctx context.Context) bool {
	s.logger.InfoContext(ctx, "settings reload requested")
	channel := s.SettingsChannelName()
	return sendTrigger(ctx, s.logger, s.triggers[channel], channel)
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

type postgresNotifier struct {
	logger   *slog.Logger
	notifyID string
	dsn      string
	writeDB  DBI
	triggers map[string]chan bool
}

func (p *postgresNotifier) ID() string {
	return p.notifyID
}

func (postgresNotifier) RuntimeConfigChannelName() string {
	return postgresNotifyChannelRuntimeConfigUpdated
}

func (postgresNotifier) SettingsChannelName() string {
	return postgresNotifyChannelSettingsUpdated
}

func (p *postgresNotifier) notify(ctx context.Context, channel string) bool {
	err := p.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		p.ID(),
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			tint.Err(err),
			"channel", channel,
		)
		return false
	}
	p.logger.InfoContext(ctx, "sent notification", "channel", channel, "pg_notify_id", p.ID())

	// NOTIFY payloads from ourselves are ignored by Listen, so the local
	// instance is refreshed directly
	return sendTrigger(ctx, p.logger, p.triggers[channel], channel)
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	return p.notify(ctx, p.RuntimeConfigChannelName())
}

func (p *postgresNotifier) ReloadSettings(ctx context.Context) bool {
	return p.notify(ctx, p.SettingsChannelName())
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "starting db listener")

	config, err := pgxpool.ParseConfig(p.dsn)
	if err != nil {
		return fmt.Errorf("error parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("error creating connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("error acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("error setting up listener: %w", err)
	}
	logger.InfoContext(ctx, "started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(dbNotifierRetryDelay):
			}
			continue
		}
		if notification.Payload == p.ID() {
			logger.Debug("received notification from self, ignoring")
			continue
		}
		logger.InfoContext(ctx, "received notification", "payload", notification.Payload)
		sendTrigger(ctx, logger, p.triggers[channel], channel)
	}

	return nil
}
