package intake

import "time"

type ErrorHandler func(err error)

type PollConfig struct {
	// Enabled 控制是否定期拉取报名邮件。
	Enabled bool

	// Interval 为两次拉取之间的基础间隔，实际等待时间会叠加 ±Jitter 的随机抖动。
	Interval time.Duration
	Jitter   time.Duration

	// Folder 为空时使用邮箱配置中的默认文件夹。
	Folder     string
	UnseenOnly bool
	// Limit 为单次最多处理的邮件数。
	Limit int

	// OnError 为异步错误回调（例如连接邮箱失败、写索引失败）；默认丢弃。
	OnError ErrorHandler
}

type RetentionConfig struct {
	Enabled bool

	// Interval 为清理周期。
	Interval time.Duration
	// KeepDays 为审计记录保留天数，<=0 表示不按时间清理。
	KeepDays int
	// KeepCount 为最多保留的审计记录条数，<=0 表示不按条数清理。
	KeepCount int

	OnError ErrorHandler
}

type Config struct {
	Poll      PollConfig
	Retention RetentionConfig
}

func DefaultConfig() Config {
	return Config{
		Poll: PollConfig{
			Enabled:    true,
			Interval:   5 * time.Minute,
			Jitter:     30 * time.Second,
			UnseenOnly: true,
			Limit:      20,
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Interval: time.Hour,
			KeepDays: 30,
		},
	}
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.Limit <= 0 {
		c.Limit = 20
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}
