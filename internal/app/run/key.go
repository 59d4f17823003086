package run

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/John-Robertt/RPGMX/internal/app/planner"
	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/config"
	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
	"github.com/John-Robertt/RPGMX/internal/project"
)

// ErrKeyUnresolved 表示没有显式密钥，且无法从 System.json 或任何候选文件推导出密钥。
var ErrKeyUnresolved = errors.New("key unresolved")

// headLen 是推导密钥时读取的文件前缀长度，需覆盖 OGG 第二页的页头。
const headLen = 64 << 10

// batchKey 是一次批处理解析出的密钥；解析后只读，按值传给各 worker。
type batchKey struct {
	Key      domain.Key
	Source   string
	From     string // 推导来源（相对输入根目录）
	Complete bool
	// PerFile 为 true 时 Key 无意义：每个文件各自推导。
	PerFile bool
}

// resolveKey 按固定顺序解析密钥：显式 > System.json > 已知明文推导。
// 只在 worker 启动前顺序调用一次。
func resolveKey(eff config.EffectiveConfig, proj project.Project, hasProj bool, jobs []planner.Job) (batchKey, error) {
	if eff.KeySet {
		return batchKey{Key: eff.Key, Source: domain.KeySourceExplicit, Complete: true}, nil
	}
	if eff.Direction == domain.DirectionEncrypt {
		return batchKey{}, fmt.Errorf("%w：加密必须显式提供密钥", ErrKeyUnresolved)
	}
	if eff.KeyMode == domain.KeyModePerFile {
		return batchKey{Source: domain.KeySourcePerFile, PerFile: true}, nil
	}

	if eff.UseSystemJSON && hasProj {
		// 缺失或格式错误的 encryptionKey 不致命，继续尝试推导。
		if k, err := proj.System.Key(); err == nil {
			return batchKey{
				Key:      k,
				Source:   domain.KeySourceSystemJSON,
				From:     relOrAbs(eff.Root, proj.SystemJSON),
				Complete: true,
			}, nil
		}
	}

	return recoverFromJobs(eff.KeyFill, jobs)
}

// recoverFromJobs 依次尝试候选文件：先 Image（窗口总是完整），再其他类型；
// 完整窗口优先，全部只有部分窗口时取第一个通过校验的。
func recoverFromJobs(fill keyrec.FillPolicy, jobs []planner.Job) (batchKey, error) {
	var (
		partial *batchKey
		tried   int
	)
	for _, imageFirst := range []bool{true, false} {
		for _, j := range jobs {
			if (j.Entry.Kind == asset.Image) != imageFirst {
				continue
			}
			tried++
			bk, ok := tryCandidate(j, fill)
			if !ok {
				continue
			}
			if bk.Complete {
				return bk, nil
			}
			if partial == nil {
				p := bk
				partial = &p
			}
		}
	}
	if partial != nil {
		return *partial, nil
	}
	if tried == 0 {
		return batchKey{}, fmt.Errorf("%w：没有可用于推导密钥的加密资源", ErrKeyUnresolved)
	}
	return batchKey{}, fmt.Errorf("%w：%d 个候选文件均无法推导出有效密钥", ErrKeyUnresolved, tried)
}

// tryCandidate 对单个候选做“推导 + 还原 + 窗口外校验”；任一步失败都返回 ok=false。
func tryCandidate(j planner.Job, fill keyrec.FillPolicy) (batchKey, bool) {
	b, err := readHead(j.Src.AbsPath, headLen)
	if err != nil || !cipher.HasSignature(b) {
		return batchKey{}, false
	}
	r, err := keyrec.Recover(b, j.Entry.Kind, fill)
	if err != nil {
		return batchKey{}, false
	}
	restored, err := cipher.Restore(b, r.Key)
	if err != nil {
		return batchKey{}, false
	}
	if err := keyrec.Check(j.Entry.Kind, restored); err != nil {
		return batchKey{}, false
	}
	return batchKey{
		Key:      r.Key,
		Source:   domain.KeySourceRecovered,
		From:     j.Src.RelPath,
		Complete: r.Complete,
	}, true
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := make([]byte, n)
	m, err := io.ReadFull(f, b)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return b[:m], nil
}

func relOrAbs(base, p string) string {
	if rel, err := filepath.Rel(base, p); err == nil {
		return rel
	}
	return p
}
