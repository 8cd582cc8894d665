package data

import (
	"fmt"
	"time"

	"DataLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Databases bundles the primary and replica GORM handles. HasReplica is
// computed once at construction: when no distinct replica DSN is configured
// the replica handle aliases the primary and the router runs in permanent
// primary-only mode.
type Databases struct {
	Primary    *gorm.DB
	Replica    *gorm.DB
	HasReplica bool
}

// NewDatabases opens the primary MySQL connection and, when configured, the
// read replica connection. A missing or unreachable primary is fatal; a
// replica that cannot be opened degrades the service to primary-only mode
// instead of failing startup.
func NewDatabases(c *conf.Data, l log.Logger) (*Databases, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		helper.Error("database configuration is missing")
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	primary, closePrimary, err := openMySQL(c.Database.Source, helper)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to primary: %w", err)
	}
	helper.Infow("msg", "primary connection established", "source", c.Database.Source)

	dbs := &Databases{
		Primary:    primary,
		Replica:    primary,
		HasReplica: false,
	}
	cleanup := closePrimary

	replicaSource := c.Database.ReplicaSource
	if replicaSource == "" || replicaSource == c.Database.Source {
		helper.Info("no distinct replica configured, running in primary-only mode")
		return dbs, cleanup, nil
	}

	replica, closeReplica, err := openMySQL(replicaSource, helper)
	if err != nil {
		// The replica is an optimization, not a source of truth.
		helper.Warnw("msg", "failed to connect to replica, running in primary-only mode",
			"replica_source", replicaSource,
			"error", err)
		return dbs, cleanup, nil
	}

	dbs.Replica = replica
	dbs.HasReplica = true
	helper.Infow("msg", "replica connection established", "replica_source", replicaSource)

	cleanup = func() {
		closeReplica()
		closePrimary()
	}
	return dbs, cleanup, nil
}

// openMySQL opens one GORM MySQL connection with pool configuration and
// verifies it with a ping.
func openMySQL(source string, helper *log.Helper) (*gorm.DB, func(), error) {
	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(source), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	cleanup := func() {
		helper.Info("closing MySQL connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close MySQL: %v", err)
		}
	}

	return db, cleanup, nil
}

// gormLogAdapter adapts the Kratos log.Helper to the GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements the gorm/logger.Writer interface.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Infof(format, v...)
}
