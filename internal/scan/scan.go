package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

// ScanAssets 递归扫描 root 下的所有常规文件，并应用目录排除规则。
//
// 规则：
// - 不按扩展名过滤：无关文件也要进入分类阶段，由上层记为 skipped
// - excludeDirs 中的相对路径相对 root；绝对路径按绝对路径处理
// - 符号链接等非常规文件直接忽略
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
func ScanAssets(root string, excludeDirs []string) ([]domain.AssetFile, error) {
	root = filepath.Clean(root)
	excluded := buildExcluded(root, excludeDirs)

	files := make([]domain.AssetFile, 0, 128)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path != root && isExcluded(path, excluded) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		// 本工具自己的临时文件（上次中断遗留）不参与处理。
		if isTempName(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		files = append(files, newAssetFile(path, rel, info))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// Single 把单个文件包装成扫描结果（RelPath 为文件名）。
func Single(path string) (domain.AssetFile, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return domain.AssetFile{}, err
	}
	if !info.Mode().IsRegular() {
		return domain.AssetFile{}, fmt.Errorf("不是常规文件：%q", path)
	}
	return newAssetFile(path, filepath.Base(path), info), nil
}

func newAssetFile(abs, rel string, info fs.FileInfo) domain.AssetFile {
	name := filepath.Base(abs)
	ext := filepath.Ext(name)
	return domain.AssetFile{
		AbsPath: abs,
		RelPath: rel,
		Base:    strings.TrimSuffix(name, ext),
		Ext:     strings.ToLower(strings.TrimPrefix(ext, ".")),
		Size:    info.Size(),
		ModUnix: info.ModTime().Unix(),
	}
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".tmp-")
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
