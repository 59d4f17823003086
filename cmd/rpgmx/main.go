package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/John-Robertt/RPGMX/internal/app"
	"github.com/John-Robertt/RPGMX/internal/app/run"
	"github.com/John-Robertt/RPGMX/internal/config"
	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/infra/fsx"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	programName = "rpgmx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		os.Exit(exitFailed)
	}

	e := &cliEnv{
		cwd:         cwd,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		stdoutTTY:   isTTY(os.Stdout),
		interactive: isTTY(os.Stderr),
	}
	code := e.run(ctx, os.Args)
	stop()
	os.Exit(code)
}

// cliEnv 汇总一次命令执行的 I/O 与终端状态，便于测试时替换为 buffer。
type cliEnv struct {
	cwd    string
	stdout io.Writer
	stderr io.Writer

	// stdoutTTY 为 false 时 stdout 只输出一个 JSON（RunReport 或 KeyInfo）。
	stdoutTTY bool
	// interactive 为 true 时在 stderr 上显示进度；否则改用结构化日志。
	interactive bool

	code int
}

func (e *cliEnv) run(ctx context.Context, args []string) int {
	e.code = exitOK
	if err := e.newApp().RunContext(ctx, args); err != nil {
		fmt.Fprintf(e.stderr, "参数错误：%v\n", err)
		return exitUsage
	}
	return e.code
}

func (e *cliEnv) newApp() *cli.App {
	return &cli.App{
		Name:            programName,
		Usage:           "RPG Maker MV/MZ 资源解密/加密工具",
		Writer:          e.stdout,
		ErrWriter:       e.stderr,
		HideHelpCommand: true,
		// 退出码由 cliEnv 统一决定，不让 cli 直接 os.Exit。
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:   "decrypt",
				Usage:  "还原加密资源（rpgmvp/rpgmvo/rpgmvm/png_/ogg_/m4a_）",
				Flags:  batchFlags(),
				Action: e.batchAction(domain.DirectionDecrypt),
			},
			{
				Name:   "encrypt",
				Usage:  "加密原始资源（png/ogg/m4a），必须提供 --key",
				Flags:  batchFlags(),
				Action: e.batchAction(domain.DirectionEncrypt),
			},
			{
				Name:      "extract-key",
				Usage:     "从 System.json 或单个加密资源中提取密钥（不写任何文件）",
				ArgsUsage: "[file]",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "System.json 或加密资源文件"},
					&cli.StringFlag{Name: "key-fill", Usage: "已知明文不完整时的处理：template|strict"},
				},
				Action: e.extractKeyAction,
			},
		},
	}
}

func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "key", Aliases: []string{"e"}, Usage: "32 位十六进制密钥（解密时可省略，自动推导）"},
		&cli.StringFlag{Name: "engine", Aliases: []string{"E"}, Usage: "加密输出的扩展名风格：mv|mz（默认按工程检测，否则 mv）"},
		&cli.PathFlag{Name: "input-dir", Aliases: []string{"i"}, Usage: "输入目录（默认 ./）"},
		&cli.PathFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "输出目录（默认与输入相同，保留目录结构）"},
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "只处理单个文件（与 --input-dir 互斥）"},
		&cli.PathFlag{Name: "config", Usage: "配置文件路径（默认 <输入目录>/rpgmx.json，可选）"},
		&cli.IntFlag{Name: "concurrency", Usage: "并发数 [1,32]（默认 4）"},
		&cli.BoolFlag{Name: "strict", Usage: "首个失败即中止整个批次"},
		&cli.BoolFlag{Name: "dry-run", Usage: "只做变换与校验，不写入"},
		&cli.BoolFlag{Name: "no-overwrite", Usage: "目标已存在时跳过"},
		&cli.StringFlag{Name: "key-mode", Usage: "密钥解析方式：batch|per_file"},
		&cli.StringFlag{Name: "key-fill", Usage: "已知明文不完整时的处理：template|strict"},
		&cli.PathFlag{Name: "report", Usage: "把 RunReport JSON 原子写入该路径"},
		&cli.StringFlag{Name: "log-level", Usage: "非交互模式的日志级别：debug|info|warn|error"},
	}
}

func cliArgsFrom(c *cli.Context, dir domain.Direction) config.CLIArgs {
	a := config.CLIArgs{
		Direction:   dir,
		InputDir:    c.Path("input-dir"),
		File:        c.Path("file"),
		Output:      c.Path("output-dir"),
		Key:         c.String("key"),
		KeySet:      c.IsSet("key"),
		Engine:      c.String("engine"),
		ConfigPath:  c.Path("config"),
		Concurrency: c.Int("concurrency"),
		KeyMode:     c.String("key-mode"),
		KeyFill:     c.String("key-fill"),
		LogLevel:    c.String("log-level"),
	}
	// 只有显式给出的布尔参数才覆盖配置文件（--strict=false 也算显式）。
	a.Strict = boolIfSet(c, "strict")
	a.DryRun = boolIfSet(c, "dry-run")
	a.NoOverwrite = boolIfSet(c, "no-overwrite")
	return a
}

func boolIfSet(c *cli.Context, name string) *bool {
	if !c.IsSet(name) {
		return nil
	}
	v := c.Bool(name)
	return &v
}

func (e *cliEnv) batchAction(dir domain.Direction) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() > 0 {
			return fmt.Errorf("多余的参数：%q（输入目录请用 --input-dir）", c.Args().Slice())
		}

		eff, err := config.LoadEffective(e.cwd, cliArgsFrom(c, dir))
		if err != nil {
			e.emitReport(reportForConfigError(e.cwd, dir, err))
			e.code = exitFailed
			return nil
		}

		var (
			obs run.Observer
			ui  *progressUI
		)
		if e.interactive {
			ui = newProgressUI(e.stderr)
			obs = ui
		} else {
			obs = newLogObserver(e.stderr, eff.LogLevel)
		}

		var rr domain.RunReport
		if dir == domain.DirectionEncrypt {
			rr = run.Encrypt(c.Context, eff, obs)
		} else {
			rr = run.Decrypt(c.Context, eff, obs)
		}
		if ui != nil {
			ui.Stop()
		}

		if p := strings.TrimSpace(c.Path("report")); p != "" {
			if err := writeReportFile(absFrom(e.cwd, p), rr); err != nil {
				fmt.Fprintf(e.stderr, "写入报告失败：%v\n", err)
				e.code = exitFailed
			}
		}

		e.emitReport(rr)
		if !rr.OK() {
			e.code = exitFailed
		}
		return nil
	}
}

func (e *cliEnv) extractKeyAction(c *cli.Context) error {
	path := c.Path("file")
	if path == "" {
		path = c.Args().First()
	} else if c.NArg() > 0 {
		return fmt.Errorf("--file 与位置参数不能同时指定")
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("需要指定文件：rpgmx extract-key -f <file>")
	}
	fill, err := keyrec.ParseFillPolicy(c.String("key-fill"))
	if err != nil {
		return err
	}

	info, err := app.ExtractKey(absFrom(e.cwd, path), fill)
	if err != nil {
		fmt.Fprintf(e.stderr, "提取密钥失败：%v\n", err)
		e.code = exitFailed
		return nil
	}

	if e.stdoutTTY {
		fmt.Fprintf(e.stdout, "Encryption key: %s\n", info.Hex)
	} else {
		_ = json.NewEncoder(e.stdout).Encode(info)
	}
	if !info.Complete {
		fmt.Fprintf(e.stderr, "注意：%s 的已知明文窗口不完整，密钥只有部分字节可信\n", info.Kind)
	}
	return nil
}

func (e *cliEnv) emitReport(rr domain.RunReport) {
	summary := fmt.Sprintf("完成：written=%d planned=%d skipped=%d failed=%d",
		rr.Summary.Written, rr.Summary.Planned, rr.Summary.Skipped, rr.Summary.Failed,
	)
	if rr.Aborted {
		summary += " aborted=" + rr.AbortReason
	}

	if e.stdoutTTY {
		fmt.Fprintln(e.stdout, summary)
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			src := it.Src
			if src == "" {
				src = "<batch>"
			}
			fmt.Fprintf(e.stderr, "%s %s: %s\n", src, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(e.stdout).Encode(rr)
	fmt.Fprintln(e.stderr, summary)
}

func reportForConfigError(cwd string, dir domain.Direction, err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	rr := domain.RunReport{
		Path:       cwd,
		Direction:  string(dir),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.FileResult{{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	dir := filepath.Dir(path)
	if err := fsx.EnsureDir(dir); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(dir, filepath.Base(path), b)
}

func absFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
