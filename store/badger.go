package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type BadgerStore struct {
	db       *badger.DB
	logger   Logger
	inMemory bool
}

// OpenBadger opens the database at path, or an in-memory database when path is
// empty. For on-disk databases a value log GC loop runs until ctx is done.
func OpenBadger(ctx context.Context, path string, logger Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger})
	inMemory := path == ""
	if inMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}

	bs := &BadgerStore{db: db, logger: logger, inMemory: inMemory}
	if !inMemory {
		go bs.runValueLogGC(ctx)
	}
	return bs, nil
}

func (bs *BadgerStore) runValueLogGC(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lsm, vlog := bs.db.Size()
		bs.logger.Debug("Badger size", "lsm", lsm, "vlog", vlog)
		if lsm > 1024*1024*8 || vlog > 1024*1024*32 {
			err := bs.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				bs.logger.Warn("Badger value log GC failed", "error", err)
			}
		}
	}
}

func (bs *BadgerStore) Close() error {
	return bs.db.Close()
}

func (bs *BadgerStore) Badger() *badger.DB {
	return bs.db
}

func (bs *BadgerStore) readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// badgerLogger routes badger's printf-style logging into the structured logger.
type badgerLogger struct {
	logger Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error("badger", "msg", fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn("badger", "msg", fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug("badger", "msg", fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug("badger", "msg", fmt.Sprintf(format, args...))
}
