package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dataDir 全局数据目录；实盘与模拟盘用不同子目录隔离运行时状态。
var dataDir = "data"

// SetDataDir overrides the data root (set once at process start).
func SetDataDir(dir string) {
	if dir != "" {
		dataDir = dir
	}
}

// GetDataDir returns the data root.
func GetDataDir() string { return dataDir }

// PositionSnapshot is the persisted estimate for one strategy.
type PositionSnapshot struct {
	StrategyID int32            `json:"strategy_id"`
	Timestamp  time.Time        `json:"timestamp"`
	SymbolsPos map[string]int64 `json:"symbols_pos"` // symbol → net_qty
}

// snapshotPath: data/{live|simulation}/positions/{strategy_id}.json
func snapshotPath(mode string, strategyID int32) string {
	return filepath.Join(dataDir, mode, "positions", fmt.Sprintf("%d.json", strategyID))
}

// SavePositionSnapshot writes the snapshot atomically: temp file in the
// same directory, then rename. A crash mid-write leaves the previous
// snapshot intact.
func SavePositionSnapshot(mode string, snap PositionSnapshot) error {
	dir := filepath.Dir(snapshotPath(mode, snap.StrategyID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%d-*.tmp", snap.StrategyID))
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, snapshotPath(mode, snap.StrategyID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// LoadPositionSnapshot reads a snapshot; a missing file returns (nil,
// nil) — no snapshot is a normal first-day condition, not an error.
func LoadPositionSnapshot(mode string, strategyID int32) (*PositionSnapshot, error) {
	data, err := os.ReadFile(snapshotPath(mode, strategyID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	var snap PositionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &snap, nil
}

// DeletePositionSnapshot removes the snapshot file (reconciliation
// correction path). Missing files are fine.
func DeletePositionSnapshot(mode string, strategyID int32) error {
	if err := os.Remove(snapshotPath(mode, strategyID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: delete: %w", err)
	}
	return nil
}
