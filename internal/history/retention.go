package history

import (
	"context"
	"time"

	"github.com/doridoridoriand/netmon/internal/log"
)

// Retain prunes rounds older than retention every interval until ctx is done. A
// non-positive retention keeps everything.
func (db *DB) Retain(ctx context.Context, retention, interval time.Duration, logger *log.Logger) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := db.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.LogError("history", err, nil)
		} else if n > 0 {
			logger.Debug("history pruned", map[string]interface{}{"rows": n})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
