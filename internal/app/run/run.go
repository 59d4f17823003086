package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/RPGMX/internal/app"
	"github.com/John-Robertt/RPGMX/internal/app/planner"
	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/config"
	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/infra/fsx"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
	"github.com/John-Robertt/RPGMX/internal/project"
	"github.com/John-Robertt/RPGMX/internal/scan"
)

// Decrypt 还原 eff.Path（目录或单个文件）下的加密资源。
func Decrypt(ctx context.Context, eff config.EffectiveConfig, obs Observer) domain.RunReport {
	eff.Direction = domain.DirectionDecrypt
	return Execute(ctx, eff, obs)
}

// Encrypt 加密 eff.Path 下的原始资源；必须提供显式密钥。
func Encrypt(ctx context.Context, eff config.EffectiveConfig, obs Observer) domain.RunReport {
	eff.Direction = domain.DirectionEncrypt
	return Execute(ctx, eff, obs)
}

// Execute 执行一次批处理，并返回对外稳定的 RunReport。
// 单个文件的失败只记录在对应条目上；只有密钥无法解析、扫描失败这类批次级错误才会以合成条目返回。
func Execute(ctx context.Context, eff config.EffectiveConfig, obs Observer) domain.RunReport {
	if obs == nil {
		obs = nopObserver{}
	}
	started := time.Now().UTC()
	obs.OnStart(eff)

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Path:      eff.Path,
		Output:    eff.Output,
		Direction: string(eff.Direction),
		Engine:    string(eff.Engine),
		DryRun:    eff.DryRun,
		Strict:    eff.Strict,
		StartedAt: started,
		Items:     make([]domain.FileResult, 0, 128),
	}
	fatal := func(code, msg string) domain.RunReport {
		rr.Items = append(rr.Items, syntheticFailed(code, msg))
		if eff.Strict {
			rr.Aborted = true
			rr.AbortReason = code
		}
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	// 加密没有已知明文来源：在触碰任何文件之前就失败。
	if eff.Direction == domain.DirectionEncrypt && !eff.KeySet {
		return fatal(domain.ErrCodeKeyUnresolved, "加密必须显式提供 --key")
	}

	proj, hasProj, err := project.Detect(eff.Root)
	if err != nil {
		// System.json 损坏不影响资源处理，只是不能作为密钥来源/引擎来源。
		hasProj = false
	}
	eng := eff.Engine
	if eng == "" && hasProj {
		eng = proj.Engine
	}
	if eng == "" && eff.Direction == domain.DirectionEncrypt {
		eng = domain.EngineMV
	}
	rr.Engine = string(eng)

	scanStarted := time.Now()
	files, err := enumerate(eff)
	if err != nil {
		return fatal(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err))
	}
	obs.OnPhaseDone("scan", map[string]any{
		"files":   len(files),
		"project": hasProj,
		"engine":  string(eng),
	}, time.Since(scanStarted))

	planStarted := time.Now()
	cands, skipped := app.Classify(files, eff.Direction)
	rr.Items = append(rr.Items, skipped...)
	jobs, conflicts := planner.PlanJobs(files, cands, eff.Direction, eng, eff.Output)
	rr.Items = append(rr.Items, conflicts...)
	obs.OnPhaseDone("plan", map[string]any{
		"jobs":      len(jobs),
		"skipped":   len(skipped),
		"conflicts": len(conflicts),
	}, time.Since(planStarted))

	if len(jobs) == 0 {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	keyStarted := time.Now()
	bk, err := resolveKey(eff, proj, hasProj, jobs)
	if err != nil {
		return fatal(domain.ErrCodeKeyUnresolved, err.Error())
	}
	if !bk.PerFile {
		rr.Key = bk.Key.String()
		rr.KeyComplete = bk.Complete
	}
	rr.KeySource = bk.Source
	rr.KeyFrom = bk.From
	obs.OnPhaseDone("key", map[string]any{
		"source":   bk.Source,
		"from":     bk.From,
		"complete": bk.Complete,
	}, time.Since(keyStarted))

	// strict：规划阶段已有失败（目标冲突）则不再执行任何写入。
	if eff.Strict && len(conflicts) > 0 {
		rr.Aborted = true
		rr.AbortReason = fmt.Sprintf("%s：%s", conflicts[0].ErrorCode, conflicts[0].Src)
		for _, j := range jobs {
			rr.Items = append(rr.Items, notStarted(j, domain.ErrCodeAborted, "strict 模式：此前已有失败，未执行"))
		}
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	obs.OnPhaseDone("exec", map[string]any{
		"workers": workers,
		"total":   len(jobs),
	}, 0)

	results, abortErr := execAll(ctx, eff, bk, jobs, workers, obs)
	rr.Items = append(rr.Items, results...)

	if abortErr != nil {
		rr.Aborted = true
		rr.AbortReason = abortErr.Error()
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

// abortError 表示 strict 模式下的首个失败。
type abortError struct {
	Src  string
	Code string
}

func (e *abortError) Error() string { return fmt.Sprintf("%s：%s", e.Code, e.Src) }

// execAll 用有上限的 worker pool 并发处理 jobs；每个 job 一个结果槽位，无需加锁。
// 返回的 error 非空表示批次被中止（strict 首个失败），ctx 取消不视为中止。
func execAll(ctx context.Context, eff config.EffectiveConfig, bk batchKey, jobs []planner.Job, workers int, obs Observer) ([]domain.FileResult, error) {
	results := make([]domain.FileResult, len(jobs))
	ran := make([]bool, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var done atomic.Int64
	for i := range jobs {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			// 排队期间批次已被取消/中止：保持未开始状态。
			if gctx.Err() != nil {
				return nil
			}
			t0 := time.Now()
			r := execOne(eff, bk, jobs[i])
			results[i] = r
			ran[i] = true

			obs.OnItemDone(int(done.Add(1)), len(jobs), r, time.Since(t0))

			if eff.Strict && r.Status == domain.StatusFailed {
				return &abortError{Src: r.Src, Code: r.ErrorCode}
			}
			return nil
		})
	}
	err := g.Wait()

	var ae *abortError
	aborted := errors.As(err, &ae)
	for i := range jobs {
		if ran[i] {
			continue
		}
		if aborted {
			results[i] = notStarted(jobs[i], domain.ErrCodeAborted, "strict 模式：此前已有失败，未执行")
		} else {
			results[i] = notStarted(jobs[i], domain.ErrCodeCanceled, "已取消，未执行")
		}
	}
	if aborted {
		return results, ae
	}
	return results, nil
}

// execOne 处理单个文件：读取 → 变换（解密时校验签名与 magic）→ 原子写入。
func execOne(eff config.EffectiveConfig, bk batchKey, j planner.Job) domain.FileResult {
	res := domain.FileResult{
		Src:  j.Src.RelPath,
		Dst:  j.DstRel,
		Kind: j.Entry.Kind.String(),
	}
	fail := func(code string, err error) domain.FileResult {
		res.Status = domain.StatusFailed
		res.ErrorCode = code
		res.ErrorMsg = err.Error()
		return res
	}

	b, err := os.ReadFile(j.Src.AbsPath)
	if err != nil {
		return fail(domain.ErrCodeIOFailed, fmt.Errorf("读取失败：%w", err))
	}

	var out []byte
	switch eff.Direction {
	case domain.DirectionDecrypt:
		if len(b) >= cipher.SignatureLen && !cipher.HasSignature(b) {
			return fail(domain.ErrCodeBadSignature, cipher.ErrNoSignature)
		}
		key := bk.Key
		if bk.PerFile {
			r, err := keyrec.Recover(b, j.Entry.Kind, eff.KeyFill)
			if err != nil {
				return fail(errorCode(err), err)
			}
			key = r.Key
		}
		out, err = cipher.Restore(b, key)
		if err != nil {
			return fail(errorCode(err), err)
		}
		if err := asset.Verify(j.Entry.Kind, out); err != nil {
			return fail(domain.ErrCodePrefixMismatch, fmt.Errorf("%w（密钥可能不正确）", err))
		}
		if bk.PerFile {
			if err := keyrec.Check(j.Entry.Kind, out); err != nil {
				return fail(domain.ErrCodeKeyUnresolved, fmt.Errorf("无法从该文件推导出可信的密钥：%w", err))
			}
		}
	default:
		out, err = cipher.Scramble(b, bk.Key)
		if err != nil {
			return fail(errorCode(err), err)
		}
	}
	res.Bytes = int64(len(out))

	if eff.DryRun {
		res.Status = domain.StatusPlanned
		return res
	}

	dir := filepath.Dir(j.DstAbs)
	if err := fsx.EnsureDir(dir); err != nil {
		return fail(errorCode(err), err)
	}
	write := fsx.WriteFileAtomicReplace
	if eff.NoOverwrite {
		write = fsx.WriteFileAtomicNoOverwrite
	}
	if err := write(dir, filepath.Base(j.DstAbs), out); err != nil {
		if errors.Is(err, os.ErrExist) {
			res.Status = domain.StatusSkipped
			res.ErrorCode = domain.ErrCodeTargetExists
			res.ErrorMsg = "目标已存在（no_overwrite）"
			res.Bytes = 0
			return res
		}
		return fail(errorCode(err), err)
	}

	res.Status = domain.StatusWritten
	return res
}

// errorCode 把错误映射为报告中的稳定 error_code。
func errorCode(err error) string {
	switch {
	case errors.Is(err, cipher.ErrTooShort):
		return domain.ErrCodeTooShort
	case errors.Is(err, cipher.ErrNoSignature):
		return domain.ErrCodeBadSignature
	case errors.Is(err, keyrec.ErrUnknownKind):
		return domain.ErrCodeUnknownKind
	case errors.Is(err, keyrec.ErrPartialWindow), errors.Is(err, keyrec.ErrImplausible), errors.Is(err, ErrKeyUnresolved):
		return domain.ErrCodeKeyUnresolved
	case errors.Is(err, asset.ErrPrefixMismatch):
		return domain.ErrCodePrefixMismatch
	case fsx.IsPathTypeConflict(err):
		return domain.ErrCodeTargetConflict
	default:
		return domain.ErrCodeIOFailed
	}
}

func enumerate(eff config.EffectiveConfig) ([]domain.AssetFile, error) {
	if eff.SingleFile {
		f, err := scan.Single(eff.Path)
		if err != nil {
			return nil, err
		}
		return []domain.AssetFile{f}, nil
	}

	exclude := append([]string(nil), eff.ExcludeDirs...)
	// 输出目录嵌套在输入目录内时排除它，避免把本次（或上次）的产物当作输入。
	out := filepath.Clean(eff.Output)
	if out != filepath.Clean(eff.Path) {
		if rel, err := filepath.Rel(eff.Path, out); err == nil && rel != ".." && !startsWithParent(rel) {
			exclude = append(exclude, out)
		}
	}
	return scan.ScanAssets(eff.Path, exclude)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func notStarted(j planner.Job, code, msg string) domain.FileResult {
	return domain.FileResult{
		Src:       j.Src.RelPath,
		Dst:       j.DstRel,
		Kind:      j.Entry.Kind.String(),
		Status:    domain.StatusSkipped,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func syntheticFailed(code, msg string) domain.FileResult {
	return domain.FileResult{
		Src:       "",
		Dst:       "",
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}
