package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// withEngine additionally wires an engine over the store and drains its
// background work before returning.
func withEngine(fn func(*store.SQLiteStore, *engine.Engine) error) error {
	return withStore(func(s *store.SQLiteStore) error {
		eng := engine.New(s, engine.WithLogger(newLogger()))
		defer eng.Close()
		return fn(s, eng)
	})
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}
