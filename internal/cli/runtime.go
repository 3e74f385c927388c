package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/docs"
	"github.com/wwwzy/IntervAgent/internal/injection"
	"github.com/wwwzy/IntervAgent/internal/mail"
	"github.com/wwwzy/IntervAgent/internal/storage"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

// toolRuntime 持有工具执行所需的全部依赖。
type toolRuntime struct {
	store      *storage.Storage
	watcher    *injection.Watcher
	env        *tools.Env
	dispatcher *tools.Dispatcher
}

// newDetector 按配置加载注入检测规则，未配置规则文件时使用内置规则。
func newDetector(cfg *config.Config) (*injection.Detector, error) {
	if cfg.Injection.PolicyFile == "" {
		return injection.NewDetector(nil), nil
	}
	p, err := injection.LoadPolicyFile(cfg.Injection.PolicyFile)
	if err != nil {
		return nil, err
	}
	return injection.NewDetector(p), nil
}

func openRuntime(ctx context.Context, cfg *config.Config) (*toolRuntime, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	detector, err := newDetector(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("加载注入检测规则失败: %w", err)
	}

	rt := &toolRuntime{store: store}
	if cfg.Injection.PolicyFile != "" && cfg.Injection.Watch {
		w, err := injection.WatchPolicy(ctx, cfg.Injection.PolicyFile, detector, nil)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Injection.PolicyFile).Msg("injection policy hot reload disabled")
		} else {
			rt.watcher = w
		}
	}

	env := &tools.Env{
		Store:       store,
		Reader:      docs.Reader{},
		Detector:    detector,
		DownloadDir: cfg.Tools.DownloadDir,
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.User != "" && cfg.SMTP.Password != "" {
		env.Mailer = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			SSL:      cfg.SMTP.SSL,
			Timeout:  cfg.SMTP.Timeout,
		})
	} else {
		log.Info().Str("tool", tools.SendReportEmail.String()).Msg("smtp is not configured, tool will fail")
	}
	if cfg.Mailbox.Host != "" && cfg.Mailbox.User != "" && cfg.Mailbox.Password != "" {
		env.Mailbox = mail.NewIMAPFetcher(mail.IMAPConfig{
			Host:     cfg.Mailbox.Host,
			Port:     cfg.Mailbox.Port,
			User:     cfg.Mailbox.User,
			Password: cfg.Mailbox.Password,
			Folder:   cfg.Mailbox.Folder,
			Timeout:  cfg.Mailbox.Timeout,
		})
	} else {
		log.Info().Str("tool", tools.FetchMailboxAttachments.String()).Msg("mailbox is not configured, tool will fail")
	}
	rt.env = env

	opts := []tools.DispatcherOption{tools.WithTimeouts(cfg.Tools.DefaultTimeout, cfg.Tools.Timeouts)}
	if cfg.Tools.Audit {
		opts = append(opts, tools.WithAuditor(tools.NewStoreAuditor(store)))
	}
	rt.dispatcher = tools.NewDispatcher(tools.NewCatalogRegistry(), env, opts...)
	return rt, nil
}

func (rt *toolRuntime) Close() {
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	if err := rt.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close storage failed")
	}
}
