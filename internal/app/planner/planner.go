package planner

import (
	"fmt"
	"path/filepath"

	"github.com/John-Robertt/RPGMX/internal/app"
	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

// Job 是单个文件的最小执行计划（只描述 src/dst；不做任何读写）。
type Job struct {
	Src   domain.AssetFile
	Entry asset.Entry

	DstAbs string
	DstRel string // 相对输出根目录
}

// PlanJobs 为每个候选计算输出路径：<outRoot>/<rel 目录>/<base>.<目标扩展名>。
//
// 同一批次内两个输入映射到同一输出（例如 a.rpgmvp 与 a.png_）时，
// 先出现的保留，后者记为 failed/target_conflict，避免互相覆盖。
func PlanJobs(files []domain.AssetFile, cands []app.Candidate, dir domain.Direction, eng domain.Engine, outRoot string) ([]Job, []domain.FileResult) {
	outRoot = filepath.Clean(outRoot)

	jobs := make([]Job, 0, len(cands))
	conflicts := make([]domain.FileResult, 0)
	owner := make(map[string]string, len(cands))

	for _, c := range cands {
		f := files[c.FileIdx]
		ext := asset.TargetExtension(c.Entry.Kind, dir, eng)
		dstRel := filepath.Join(filepath.Dir(f.RelPath), f.Base+"."+ext)
		dstAbs := filepath.Join(outRoot, dstRel)

		if prev, ok := owner[dstAbs]; ok {
			conflicts = append(conflicts, domain.FileResult{
				Src:       f.RelPath,
				Dst:       dstRel,
				Kind:      c.Entry.Kind.String(),
				Status:    domain.StatusFailed,
				ErrorCode: domain.ErrCodeTargetConflict,
				ErrorMsg:  fmt.Sprintf("输出路径与 %q 重复", prev),
			})
			continue
		}
		owner[dstAbs] = f.RelPath

		jobs = append(jobs, Job{
			Src:    f,
			Entry:  c.Entry,
			DstAbs: dstAbs,
			DstRel: dstRel,
		})
	}
	return jobs, conflicts
}
