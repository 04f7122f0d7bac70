package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// snapshot is the persisted form of the daily counters.
type snapshot struct {
	DailyLoss    int64            `json:"daily_loss"`
	PositionLoss map[string]int64 `json:"position_loss,omitempty"`
	LossStreak   int              `json:"loss_streak"`
	OrdersToday  int              `json:"orders_today"`
	Tripped      bool             `json:"tripped"`
	TrippedAt    time.Time        `json:"tripped_at,omitempty"`
	SavedAt      time.Time        `json:"saved_at"`
}

// Store persists guard state as a JSON file, written atomically via a temp
// file and rename.
type Store struct {
	path string
}

// NewStore creates a snapshot store at path.
func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) save(sn snapshot) error {
	b, err := json.MarshalIndent(sn, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) load() (snapshot, bool, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{}, false, nil
		}
		return snapshot{}, false, err
	}
	var sn snapshot
	if err := json.Unmarshal(b, &sn); err != nil {
		return snapshot{}, false, fmt.Errorf("risk: snapshot decode: %w", err)
	}
	return sn, true, nil
}

func (g *Guard) snapshotLocked() snapshot {
	pl := make(map[string]int64, len(g.positionLoss))
	for k, v := range g.positionLoss {
		pl[k] = v
	}
	return snapshot{
		DailyLoss:    g.dailyLoss,
		PositionLoss: pl,
		LossStreak:   g.lossStreak,
		OrdersToday:  g.ordersToday,
		Tripped:      g.tripped,
		TrippedAt:    g.trippedAt,
		SavedAt:      g.clock.Now(),
	}
}

// Restore attaches store and, when it holds a snapshot saved on the current
// trading day, loads the counters from it. Snapshots from earlier days are
// ignored so a restart after the daily boundary starts clean.
func (g *Guard) Restore(store *Store) error {
	sn, ok, err := store.load()
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store = store
	if !ok || !g.cal.SameTradingDay(sn.SavedAt, g.clock.Now()) {
		return nil
	}
	g.dailyLoss = sn.DailyLoss
	g.positionLoss = sn.PositionLoss
	if g.positionLoss == nil {
		g.positionLoss = make(map[string]int64)
	}
	g.lossStreak = sn.LossStreak
	g.ordersToday = sn.OrdersToday
	g.tripped = sn.Tripped
	g.trippedAt = sn.TrippedAt
	return nil
}
