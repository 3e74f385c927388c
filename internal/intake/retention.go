package intake

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/storage"
)

// AuditRetention 定期按天数与条数清理工具调用审计记录。
type AuditRetention struct {
	cfg RetentionConfig

	store *storage.Storage
}

func NewAuditRetention(store *storage.Storage) (*AuditRetention, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &AuditRetention{store: store}, nil
}

func (c *AuditRetention) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("audit retention not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if _, err := c.runOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.runOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

func (c *AuditRetention) runOnce(ctx context.Context, now time.Time) (int64, error) {
	if c == nil || c.store == nil {
		return 0, errors.New("audit retention not initialized")
	}

	var deleted int64
	if c.cfg.KeepDays > 0 {
		n, err := c.store.DeleteAuditRecordsBefore(ctx, now.AddDate(0, 0, -c.cfg.KeepDays))
		if err != nil {
			c.cfg.OnError(err)
			return deleted, err
		}
		deleted += n
	}
	if c.cfg.KeepCount > 0 {
		n, err := c.store.DeleteAuditRecordsKeepLatest(ctx, c.cfg.KeepCount)
		if err != nil {
			c.cfg.OnError(err)
			return deleted, err
		}
		deleted += n
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("audit records pruned")
	}
	return deleted, nil
}
