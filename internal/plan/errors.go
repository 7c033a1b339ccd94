package plan

import "errors"

// Sentinel errors surfaced as the taxonomy codes from spec §7.
var (
	ErrConfigInvalid              = errors.New("CONFIG_INVALID")
	ErrClassifierStrictMissing    = errors.New("CLASSIFIER_STRICT_MISSING_RULES")
	ErrReplayStrictMissingEngine  = errors.New("REPLAY_STRICT_MISSING_ENGINE")
	ErrJWTStrictMissingLibrary    = errors.New("JWT_UNAVAILABLE")
	ErrTapeKeyRequired            = errors.New("TAPE_KEY_REQUIRED")
)

// StrictFlags holds the four strict-mode toggles from spec §4.1.
type StrictFlags struct {
	ClassifierStrict bool
	ReplayStrict     bool
	JWTStrict        bool
	TapeKeyRequired  bool
}
