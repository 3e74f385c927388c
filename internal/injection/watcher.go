package injection

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher 监听策略文件变化，变化后重新加载并替换 Detector 的策略。
// 新文件解析失败时保留旧策略。
type Watcher struct {
	path     string
	detector *Detector
	fsw      *fsnotify.Watcher

	// OnReload 在每次重新加载后调用（err 为 nil 表示成功），可选。
	OnReload func(err error)

	closeOnce sync.Once
	done      chan struct{}
}

// WatchPolicy 开始监听 path。监听的是所在目录，以兼容编辑器"写临时文件再 rename"的保存方式。
func WatchPolicy(ctx context.Context, path string, detector *Detector, onReload func(error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch policy dir: %w", err)
	}

	w := &Watcher{
		path:     abs,
		detector: detector,
		fsw:      fsw,
		OnReload: onReload,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("injection policy watcher error")
		}
	}
}

func (w *Watcher) reload() {
	p, err := LoadPolicyFile(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("reload injection policy failed, keeping previous policy")
	} else {
		w.detector.SetPolicy(p)
		log.Info().Str("path", w.path).Str("version", p.Version).Int("indicators", len(p.Indicators)).Msg("injection policy reloaded")
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

// Close 停止监听并等待后台 goroutine 退出。
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
