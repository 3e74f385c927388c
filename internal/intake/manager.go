// Package intake 是常驻的收件服务：定期从邮箱拉取报名资料写入索引，并清理过期的审计记录。
package intake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type Manager struct {
	cfg Config

	poller    *MailPoller
	retention *AuditRetention

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(cfg Config) (*Manager, error) {
	cfg.Poll = cfg.Poll.withDefaults()
	cfg.Retention = cfg.Retention.withDefaults()
	return &Manager{cfg: cfg}, nil
}

func (m *Manager) WithPoller(p *MailPoller) *Manager {
	if m == nil {
		return nil
	}
	m.poller = p
	if m.poller != nil {
		m.poller.cfg = m.cfg.Poll
	}
	return m
}

func (m *Manager) WithRetention(r *AuditRetention) *Manager {
	if m == nil {
		return nil
	}
	m.retention = r
	if m.retention != nil {
		m.retention.cfg = m.cfg.Retention
	}
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	var jobs []func(context.Context) error
	if m.cfg.Poll.Enabled {
		if m.poller == nil {
			m.cancel()
			return errors.New("mail poller is required when polling enabled")
		}
		jobs = append(jobs, m.poller.Run)
	}
	if m.cfg.Retention.Enabled {
		if m.retention == nil {
			m.cancel()
			return errors.New("audit retention is required when retention enabled")
		}
		jobs = append(jobs, m.retention.Run)
	}
	if len(jobs) == 0 {
		m.cancel()
		return errors.New("nothing to run: polling and retention are both disabled")
	}

	for _, job := range jobs {
		m.wg.Add(1)
		go func(run func(context.Context) error) {
			defer m.wg.Done()
			if err := run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.runErrMu.Lock()
				if m.runErr == nil {
					m.runErr = err
				}
				m.runErrMu.Unlock()
				m.cancel()
			}
		}(job)
	}
	return nil
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}
