package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/viper"
)

// Store is the process-wide holder of the current plan, swapped atomically
// on hot reload. A flow takes a stable reference via Get() at the start of
// each pipeline hook, so it observes either the entirely old or entirely
// new plan, never a partial view.
type Store struct {
	mu       sync.RWMutex
	plan     *Plan
	path     string
	lastHash string
}

// NewStore loads path once and returns a ready Store.
func NewStore(path string) (*Store, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: hash plan file: %v", ErrConfigInvalid, err)
	}

	return &Store{plan: p, path: path, lastHash: hash}, nil
}

// Get returns the currently active plan.
func (s *Store) Get() *Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan
}

// Set replaces the active plan, bypassing file-hash comparison. Used by
// tests and by any administrative reload endpoint.
func (s *Store) Set(p *Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
}

// ReloadIfChanged recomputes the file hash; if unchanged, it's a no-op and
// returns (nil, nil). If changed, it loads and validates the new plan,
// swaps it in atomically, and returns it. On load failure the previous
// plan stays active and the error is returned to the caller to log.
func (s *Store) ReloadIfChanged() (*Plan, error) {
	hash, err := hashFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("hash plan file: %w", err)
	}

	s.mu.RLock()
	unchanged := hash == s.lastHash
	s.mu.RUnlock()
	if unchanged {
		return nil, nil
	}

	p, err := Load(s.path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.plan = p
	s.lastHash = hash
	s.mu.Unlock()

	return p, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LoadStrictFlags binds the four strict-mode env vars through viper, per
// the CHAOS_* environment contract in spec §6.
func LoadStrictFlags() StrictFlags {
	v := viper.New()
	v.SetEnvPrefix("CHAOS")
	v.AutomaticEnv()
	v.SetDefault("classifier_strict", false)
	v.SetDefault("replay_strict", false)
	v.SetDefault("jwt_strict", true)
	v.SetDefault("tape_key_required", false)

	return StrictFlags{
		ClassifierStrict: v.GetBool("classifier_strict"),
		ReplayStrict:     v.GetBool("replay_strict"),
		JWTStrict:        v.GetBool("jwt_strict"),
		TapeKeyRequired:  v.GetBool("tape_key_required"),
	}
}
