package app

import (
	"fmt"

	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

// Candidate 是通过分类、需要实际变换的文件（只存 file index，避免复制结构体）。
type Candidate struct {
	FileIdx int
	Entry   asset.Entry
}

// Classify 按扩展名把扫描结果分成待处理与直接跳过两类。
//
// - 未知扩展名：skipped/unsupported_ext（混合目录里的无关文件不能让批处理失败）
// - 已是目标形态（解密时遇到 .png，加密时遇到 .rpgmvp）：skipped/already_target
// - 输出保持 files 的原有顺序
func Classify(files []domain.AssetFile, dir domain.Direction) (cands []Candidate, skipped []domain.FileResult) {
	cands = make([]Candidate, 0, len(files))
	skipped = make([]domain.FileResult, 0, 16)

	want := asset.FormScrambled
	if dir == domain.DirectionEncrypt {
		want = asset.FormRestored
	}

	for i := range files {
		f := files[i]
		e, ok := asset.Classify(f.Ext)
		if !ok {
			skipped = append(skipped, domain.FileResult{
				Src:       f.RelPath,
				Kind:      asset.Unknown.String(),
				Status:    domain.StatusSkipped,
				ErrorCode: domain.ErrCodeUnsupportedExt,
				ErrorMsg:  fmt.Sprintf("不支持的扩展名 %q", f.Ext),
			})
			continue
		}
		if e.Form != want {
			skipped = append(skipped, domain.FileResult{
				Src:       f.RelPath,
				Kind:      e.Kind.String(),
				Status:    domain.StatusSkipped,
				ErrorCode: domain.ErrCodeAlreadyTarget,
				ErrorMsg:  fmt.Sprintf("已是%s后的形态（.%s），无需处理", verb(dir), f.Ext),
			})
			continue
		}
		cands = append(cands, Candidate{FileIdx: i, Entry: e})
	}
	return cands, skipped
}

func verb(dir domain.Direction) string {
	if dir == domain.DirectionEncrypt {
		return "加密"
	}
	return "解密"
}
