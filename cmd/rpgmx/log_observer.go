package main

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/RPGMX/internal/app/run"
	"github.com/John-Robertt/RPGMX/internal/config"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

var _ run.Observer = (*logObserver)(nil)

// logObserver 在非交互环境下把事件写成结构化日志（stderr），stdout 仍只留给 JSON。
type logObserver struct {
	log *logrus.Logger
}

func newLogObserver(w io.Writer, level string) *logObserver {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	if lv, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lv)
	}
	return &logObserver{log: l}
}

func (o *logObserver) OnStart(eff config.EffectiveConfig) {
	o.log.WithFields(logrus.Fields{
		"direction":   eff.Direction,
		"path":        eff.Path,
		"output":      eff.Output,
		"dry_run":     eff.DryRun,
		"strict":      eff.Strict,
		"concurrency": eff.Concurrency,
		"key":         keyHint(eff),
	}).Info("开始")
}

func (o *logObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.log.WithFields(logrus.Fields(fields)).
		WithField("phase", name).
		WithField("dur", dur.Round(time.Millisecond).String()).
		Info("阶段完成")
}

func (o *logObserver) OnItemDone(idx, total int, res domain.FileResult, dur time.Duration) {
	entry := o.log.WithFields(logrus.Fields{
		"idx":    idx,
		"total":  total,
		"src":    res.Src,
		"status": res.Status,
		"dur":    dur.Round(time.Millisecond).String(),
	})
	switch res.Status {
	case domain.StatusFailed:
		entry.WithField("error_code", res.ErrorCode).Warn(res.ErrorMsg)
	case domain.StatusSkipped:
		entry.WithField("error_code", res.ErrorCode).Debug("跳过")
	default:
		entry.WithField("dst", res.Dst).WithField("bytes", res.Bytes).Debug("完成")
	}
}
