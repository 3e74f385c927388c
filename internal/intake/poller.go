package intake

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/mail"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// MailPoller 定期拉取报名邮件附件并写入索引。单次失败只上报，不会终止轮询。
type MailPoller struct {
	cfg PollConfig

	env *tools.Env
}

func NewMailPoller(env *tools.Env) (*MailPoller, error) {
	if env == nil || env.Store == nil {
		return nil, errors.New("storage is required")
	}
	if env.Mailbox == nil {
		return nil, errors.New("mailbox is required")
	}
	return &MailPoller{env: env}, nil
}

func (p *MailPoller) Run(ctx context.Context) error {
	if p == nil || p.env == nil {
		return errors.New("mail poller not initialized")
	}
	p.cfg = p.cfg.withDefaults()

	for {
		if _, err := p.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.cfg.OnError(err)
			log.Warn().Err(err).Msg("poll registration mailbox failed")
		}

		timer := time.NewTimer(withJitter(p.cfg.Interval, p.cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *MailPoller) runOnce(ctx context.Context) (tools.FetchSummary, error) {
	summary, err := tools.FetchAndIndex(ctx, p.env, mail.FetchOptions{
		Folder:     p.cfg.Folder,
		UnseenOnly: p.cfg.UnseenOnly,
		Limit:      p.cfg.Limit,
		DestDir:    p.env.DownloadDir,
	})
	if err != nil {
		return summary, fmt.Errorf("fetch registration mail: %w", err)
	}

	for _, a := range summary.Attachments {
		if a.RiskLevel == injection.LevelHigh.String() {
			log.Warn().
				Uint64("document_id", a.DocumentID).
				Str("file", a.FileName).
				Str("sender", a.Sender).
				Msg("registration document flagged as HIGH injection risk")
		}
	}
	if summary.Fetched > 0 {
		log.Info().Int("fetched", summary.Fetched).Int("indexed", summary.Indexed).Msg("registration mail polled")
	}
	return summary, nil
}

func withJitter(base, jitter time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Minute
	}
	if jitter <= 0 {
		return base
	}
	delta := time.Duration(rand.Int64N(int64(jitter)*2+1)) - jitter
	return base + delta
}
