package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jhudec/sandglass/pkg/account"
	"github.com/jhudec/sandglass/pkg/exchange"
)

// ErrNotExists reports that no snapshot was persisted under the key.
var ErrNotExists = errors.New("session: snapshot does not exist")

// Snapshot is the opaque, versionless persistence blob. No other process or
// schema depends on its internal layout.
type Snapshot struct {
	Strategy  string    `json:"strategy"`
	Mode      string    `json:"mode"`
	Frequency string    `json:"frequency"`
	ClockTime time.Time `json:"clock_time"`

	Ledger     *account.Ledger          `json:"ledger"`
	Orders     exchange.State           `json:"orders"`
	Settlement exchange.SettlementState `json:"settlement"`

	// Vars round-trips through JSON: numbers load back as float64, nested
	// values as generic maps and slices.
	Vars map[string]any `json:"vars,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// Store persists snapshots as JSON files addressed by strategy name and run
// mode. Writes go through a temp file and rename so a crash mid-save never
// corrupts the previous blob.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *Store) path(strategyName, mode string) string {
	key := keySanitizer.ReplaceAllString(strategyName+"_"+mode, "_")
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.path(snap.Strategy, snap.Mode)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) Load(strategyName, mode string) (Snapshot, error) {
	data, err := os.ReadFile(s.path(strategyName, mode))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNotExists
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
