package calendar

import (
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshotFormatVersion is bumped whenever the on-disk layout changes.
// Load transparently discards a snapshot written by an older version
// instead of failing to decode it.
const snapshotFormatVersion = 1

// snapshotCodeVersion is the version tag compared against the cached
// year tag's companion field; a mismatch forces a rebuild even if the
// snapshot is otherwise fresh. Bump when holiday rule data changes.
const snapshotCodeVersion = "1"

// snapshot is the serialized form of every market's trading-day set,
// persisted as one file per process/deployment unit (§4.1 Persistence).
type snapshot struct {
	FormatVersion int                   `msgpack:"format_version"`
	CodeVersion   string                `msgpack:"code_version"`
	GeneratedAt   time.Time             `msgpack:"generated_at"`
	YearTag       int                   `msgpack:"year_tag"`
	Markets       map[Market]marketDays `msgpack:"markets"`
}

// marketDays is one market's trading-day set plus its own refresh
// bookkeeping, keyed as "YYYYMMDD" strings for compact, order-independent
// msgpack encoding.
type marketDays struct {
	Days       []string  `msgpack:"days"`
	LastUpdate time.Time `msgpack:"last_update"`
}

func loadSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.FormatVersion != snapshotFormatVersion || snap.CodeVersion != snapshotCodeVersion {
		return nil, fmt.Errorf("calendar snapshot version %d/%q does not match %d/%q",
			snap.FormatVersion, snap.CodeVersion, snapshotFormatVersion, snapshotCodeVersion)
	}
	return &snap, nil
}

func saveSnapshot(path string, snap *snapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// stale reports whether the snapshot must be rebuilt per §4.1's
// rebuild triggers: missing (handled by the caller), generated_at older
// than 30 days, cached year tag differs from now, or version mismatch.
func (s *snapshot) stale(now time.Time) bool {
	if s.FormatVersion != snapshotFormatVersion {
		return true
	}
	if s.CodeVersion != snapshotCodeVersion {
		return true
	}
	if now.Sub(s.GeneratedAt) > 30*24*time.Hour {
		return true
	}
	if s.YearTag != now.Year() {
		return true
	}
	return false
}
