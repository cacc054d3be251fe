package timelapse

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// PruneOld は dir 内の prefix で始まるファイルのうち、now から maxAge より古いものを削除する
// ディレクトリがなければ何もしない
func PruneOld(dir, prefix string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "ディレクトリの読み込みに失敗: %s", dir)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "削除に失敗: %s", entry.Name())
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
