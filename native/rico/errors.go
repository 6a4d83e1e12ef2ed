package rico

import "errors"

var (
	// ErrConfig is returned when the sale parameters cannot produce a valid
	// stage schedule. It only occurs during initialisation.
	ErrConfig = errors.New("rico: invalid sale configuration")
	// ErrOutOfRange is returned for block heights outside the sale period.
	ErrOutOfRange = errors.New("rico: block outside of rICO period")
	// ErrNoLockedTokens is returned when tokens are returned by a participant
	// that has nothing left to unlock.
	ErrNoLockedTokens = errors.New("rico: participant has no locked tokens")
	// ErrInsufficientAvailable is returned when the project wallet requests
	// more ETH than is currently unlocked for it.
	ErrInsufficientAvailable = errors.New("rico: requested amount exceeds available project ETH")
	// ErrBlockBeforeCheckpoint is returned by balance views asked about a
	// block the participant's records have already been rebased past.
	ErrBlockBeforeCheckpoint = errors.New("rico: block precedes participant checkpoint")

	ErrUnauthorized        = errors.New("rico: caller not authorized")
	ErrNotInitialized      = errors.New("rico: sale not initialized")
	ErrAlreadyInitialized  = errors.New("rico: sale already initialized")
	ErrInvalidAmount       = errors.New("rico: amount must be positive")
	ErrNothingPending      = errors.New("rico: participant has no pending contributions")
	ErrReentrantCall       = errors.New("rico: reentrant call")
	ErrInsufficientBalance = errors.New("rico: insufficient balance")
	ErrUnknownParticipant  = errors.New("rico: participant not found")

	errNilState  = errors.New("rico engine: state not configured")
	errNilLedger = errors.New("rico engine: token ledger not configured")
	errNilClock  = errors.New("rico engine: clock not configured")
)
