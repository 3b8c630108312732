package wbrb

import "errors"

// Errors returned by Cache's public surface. All are sentinel values
// usable with errors.Is; some are also returned wrapped with additional
// context via fmt.Errorf("%w: ...", ...).
var (
	// ErrTimeout is returned when a blocking call exceeds its caller-supplied
	// timeout before reaching a terminal outcome.
	ErrTimeout = errors.New(`wbrb: timeout`)

	// ErrCacheFull is returned by Preload/an implicit insert when the number
	// of entries in the cache has reached maxCacheElementsHardLimit.
	ErrCacheFull = errors.New(`wbrb: cache full`)

	// ErrItemNotPresent is returned by WriteIfCached when no entry exists
	// for the key, and by Read when the key's initial read failed final and
	// initialReadFailedFinalAction removes the entry. Read on an absent key
	// creates the entry and waits for its read instead.
	ErrItemNotPresent = errors.New(`wbrb: item not present`)

	// ErrReadFailedFinal is returned once a key's initial read has
	// exhausted readFailureMaxRetryCount, and initialReadFailedFinalAction
	// is KeepAndThrow.
	ErrReadFailedFinal = errors.New(`wbrb: read failed (final)`)

	// ErrResyncFailedFinal is returned by Read once a key's resync (or write)
	// has exhausted fullCacheCycleFailureMaxRetryCount, the entry was kept,
	// and AllowDataReadingAfterResyncFailedFinal is false.
	ErrResyncFailedFinal = errors.New(`wbrb: resync failed (final)`)

	// ErrRemovedFromCache is returned for operations against a key whose
	// entry has been evicted.
	ErrRemovedFromCache = errors.New(`wbrb: removed from cache`)

	// ErrControlStateForbids is returned by WriteIfCached when the entry's
	// status does not accept writes (e.g. ReadPending, ReadFailedFinal, or
	// ResyncFailedFinal without AllowDataWritingAfterResyncFailedFinal).
	ErrControlStateForbids = errors.New(`wbrb: control state forbids operation`)

	// ErrConfigurationInvalid is returned by Config.Validate.
	ErrConfigurationInvalid = errors.New(`wbrb: invalid configuration`)

	// ErrInternal marks an assertion failure / invariant violation. No
	// operation of Cache returns it, and the cache does not check its
	// invariants at runtime.
	ErrInternal = errors.New(`wbrb: internal error`)
)
