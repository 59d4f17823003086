package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/RPGMX/internal/app/run"
	"github.com/John-Robertt/RPGMX/internal/config"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr，不污染 stdout
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int
	bytes   int64

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "apply"
	if eff.DryRun {
		mode = "dry-run"
	}

	fmt.Fprintf(p.w, "[%s] RPGMX %s (%s)\n", now.Format("15:04:05"), eff.Direction, mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  path: %s\n", eff.Path)
	fmt.Fprintf(p.w, "  output: %s\n", eff.Output)
	fmt.Fprintf(p.w, "  key: %s\n", keyHint(eff))
	if eff.Engine != "" {
		fmt.Fprintf(p.w, "  engine: %s\n", eff.Engine)
	}
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  strict: %s  no_overwrite: %s\n", onOff(eff.Strict), onOff(eff.NoOverwrite))
	if len(eff.ExcludeDirs) > 0 {
		fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(eff.ExcludeDirs))
	}
	if eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigFile)
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		fmt.Fprintf(p.w, "扫描: files=%d%s (%s)\n",
			intField(fields, "files"), projectNote(fields), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: jobs=%d skipped=%d conflicts=%d (%s)\n",
			intField(fields, "jobs"), intField(fields, "skipped"), intField(fields, "conflicts"), formatShortDuration(dur),
		)
	case "key":
		src := stringField(fields, "source")
		from := stringField(fields, "from")
		note := ""
		if src == domain.KeySourceRecovered && !boolField(fields, "complete") {
			note = " (已知明文窗口不完整)"
		}
		if from != "" {
			fmt.Fprintf(p.w, "密钥: source=%s from=%s%s (%s)\n", src, from, note, formatShortDuration(dur))
		} else {
			fmt.Fprintf(p.w, "密钥: source=%s%s (%s)\n", src, note, formatShortDuration(dur))
		}
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total")
		fmt.Fprintf(p.w, "执行: workers=%d total=%d\n\n", p.workers, p.total)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.FileResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusWritten, domain.StatusPlanned:
		p.ok++
		p.bytes += res.Bytes
	case domain.StatusFailed:
		p.fail++
	case domain.StatusSkipped:
		p.skip++
	}

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] FAIL %s %s: %s (%s)\n",
			idx, total, res.Src, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "[%d/%d] SKIP %s %s (%s)\n",
			idx, total, res.Src, res.ErrorCode, formatShortDuration(dur),
		)
	default:
		status := "OK"
		if res.Status == domain.StatusPlanned {
			status = "PLAN"
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s -> %s %s (%s)\n",
			idx, total, status, res.Src, res.Dst, humanize.Bytes(uint64(res.Bytes)), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

// Stop 在批次结束后调用（取消/中止时不一定会收到最后一条 OnItemDone）。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) stopTickerLocked() {
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stopCh := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					p.printProgressLocked()
				}
				p.mu.Unlock()
			case <-stopCh:
				return
			}
		}
	}()
}

func (p *progressUI) printProgressLocked() {
	active := p.workers
	if remain := p.total - p.done; remain < active {
		active = remain
	}
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d bytes=%s elapsed=%s\n",
		p.done, p.total, p.ok, p.fail, p.skip, active, humanize.Bytes(uint64(p.bytes)), formatElapsed(time.Since(p.startedAt)),
	)
	p.lastPrinted = time.Now()
}

func keyHint(eff config.EffectiveConfig) string {
	switch {
	case eff.KeySet:
		return "explicit"
	case eff.Direction == domain.DirectionEncrypt:
		return "missing"
	case eff.KeyMode == domain.KeyModePerFile:
		return "auto (per_file, fill=" + string(eff.KeyFill) + ")"
	default:
		return "auto (fill=" + string(eff.KeyFill) + ")"
	}
}

func projectNote(fields map[string]any) string {
	if !boolField(fields, "project") {
		return ""
	}
	if eng := stringField(fields, "engine"); eng != "" {
		return " project=" + eng
	}
	return " project=yes"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func boolField(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}
