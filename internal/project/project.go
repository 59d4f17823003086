package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

// ErrNoKeyInSystem 表示 System.json 中没有 encryptionKey。
var ErrNoKeyInSystem = errors.New("System.json 中没有 encryptionKey")

// System 是 data/System.json 中与资源加密相关的最小字段集。
type System struct {
	GameTitle          string `json:"gameTitle"`
	EncryptionKey      string `json:"encryptionKey"`
	HasEncryptedImages bool   `json:"hasEncryptedImages"`
	HasEncryptedAudio  bool   `json:"hasEncryptedAudio"`
}

// ParseSystem 解析 System.json（允许 UTF-8 BOM）。
func ParseSystem(b []byte) (System, error) {
	b = trimBOM(b)
	var s System
	if err := json.Unmarshal(b, &s); err != nil {
		return System{}, fmt.Errorf("解析 System.json 失败：%w", err)
	}
	return s, nil
}

// Key 返回 System.json 中的密钥。
func (s System) Key() (domain.Key, error) {
	if strings.TrimSpace(s.EncryptionKey) == "" {
		return domain.Key{}, ErrNoKeyInSystem
	}
	return domain.ParseKey(s.EncryptionKey)
}

// Project 描述一次检测到的游戏工程目录。
type Project struct {
	// Root 是包含 data/ 的目录（MV 部署包通常是 www/）。
	Root       string
	SystemJSON string
	IndexHTML  string // 不存在时为空

	Engine domain.Engine // 无法识别时为空
	Title  string
	System System
}

// maxParents 限制向上查找的层数（输入常是 img/、audio/bgm/ 这类子目录）。
const maxParents = 3

// Detect 从 start（文件或目录）开始向上查找工程目录。
// 找不到时返回 ok=false 且 err=nil；System.json 存在但无法解析时返回错误。
func Detect(start string) (Project, bool, error) {
	dir := filepath.Clean(start)
	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		dir = filepath.Dir(dir)
	}

	for i := 0; i <= maxParents; i++ {
		for _, root := range []string{dir, filepath.Join(dir, "www")} {
			sys := filepath.Join(root, "data", "System.json")
			if !isRegular(sys) {
				continue
			}
			return load(root, sys)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Project{}, false, nil
}

func load(root, sysPath string) (Project, bool, error) {
	b, err := os.ReadFile(sysPath)
	if err != nil {
		return Project{}, false, err
	}
	sys, err := ParseSystem(b)
	if err != nil {
		return Project{}, false, err
	}

	p := Project{
		Root:       root,
		SystemJSON: sysPath,
		System:     sys,
		Title:      strings.TrimSpace(sys.GameTitle),
	}

	eng, title, indexPath, err := DetectEngine(root)
	if err != nil {
		return Project{}, false, err
	}
	p.Engine = eng
	p.IndexHTML = indexPath
	if p.Title == "" {
		p.Title = title
	}
	return p, true, nil
}

// DetectEngine 通过 index.html 引用的脚本识别 MV/MZ；没有 index.html 时退化为检查 js/ 下的核心脚本。
func DetectEngine(root string) (eng domain.Engine, title string, indexPath string, err error) {
	indexPath = filepath.Join(root, "index.html")
	f, err := os.Open(indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", "", "", err
		}
		return engineFromScripts(root), "", "", nil
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", "", "", fmt.Errorf("解析 index.html 失败：%w", err)
	}

	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.ToLower(s.AttrOr("src", ""))
		switch {
		case strings.Contains(src, "rmmz_"):
			eng = domain.EngineMZ
			return false
		case strings.Contains(src, "rpg_core"), strings.Contains(src, "rpg_managers"):
			eng = domain.EngineMV
			return false
		}
		return true
	})
	if eng == "" {
		// MZ 的 index.html 只引用 js/main.js，核心脚本由 main.js 动态加载。
		eng = engineFromScripts(root)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	return eng, title, indexPath, nil
}

func engineFromScripts(root string) domain.Engine {
	switch {
	case isRegular(filepath.Join(root, "js", "rmmz_core.js")):
		return domain.EngineMZ
	case isRegular(filepath.Join(root, "js", "rpg_core.js")):
		return domain.EngineMV
	default:
		return ""
	}
}

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func trimBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
