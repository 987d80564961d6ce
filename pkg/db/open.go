package db

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerZapLogger routes badger's internal logging through zap.
type badgerZapLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerZapLogger(logger *zap.Logger) *badgerZapLogger {
	return &badgerZapLogger{sugar: logger.With(zap.String("component", "badger")).Sugar()}
}

func (l *badgerZapLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerZapLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerZapLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerZapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

// Open opens (or creates) the portal database below dataDir.
func Open(logger *zap.Logger, dataDir string) (*PortalDB, error) {
	dbPath := path.Join(dataDir, "db")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return open(logger, badger.DefaultOptions(dbPath))
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(logger *zap.Logger) (*PortalDB, error) {
	return open(logger, badger.DefaultOptions("").WithInMemory(true))
}
