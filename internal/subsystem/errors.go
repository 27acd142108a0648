package subsystem

import "errors"

var (
	// ErrMigrationFailed means Migrate returned false. The persisted version
	// is left untouched and Initialize is not called.
	ErrMigrationFailed = errors.New("subsystem: migration failed")

	// ErrInitializeFailed means Initialize returned false.
	ErrInitializeFailed = errors.New("subsystem: initialize failed")

	// ErrVersionUnreadable means the persisted version could not be read or
	// parsed. The subsystem is skipped, as for a failed migration.
	ErrVersionUnreadable = errors.New("subsystem: persisted version unreadable")

	// ErrVersionPersist means the declared version could not be written.
	ErrVersionPersist = errors.New("subsystem: persisting version failed")

	// ErrRestoreFailed means a subsystem's OnRestoreConfig returned false.
	ErrRestoreFailed = errors.New("subsystem: config restore failed")
)
