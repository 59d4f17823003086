package asset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

// HeaderLen 是需要还原/推导的头部窗口长度（与 domain.KeyLen 一致）。
const HeaderLen = domain.KeyLen

// ErrPrefixMismatch 表示还原结果的魔数不匹配；几乎总是意味着密钥错误。
var ErrPrefixMismatch = errors.New("magic prefix mismatch")

// Kind 是封闭的资源类型枚举。零值 Unknown 不对应任何扩展名。
type Kind int

const (
	Unknown Kind = iota
	Image
	OGG
	M4A
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case OGG:
		return "ogg"
	case M4A:
		return "m4a"
	default:
		return "unknown"
	}
}

// Form 表示扩展名处于哪种形态。
type Form int

const (
	FormRestored Form = iota
	FormScrambled
)

// Entry 是 Classify 的结果。Engine 只在 FormScrambled 时有意义。
type Entry struct {
	Kind   Kind
	Form   Form
	Engine domain.Engine
}

type kindSpec struct {
	kind      Kind
	restored  string
	scrambled map[domain.Engine]string

	// magic 从 offset 开始；还原后的头部必须匹配。
	offset int
	magic  []byte
}

var pngPrologue = []byte{
	// PNG signature
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	// IHDR chunk length: 13（固定）
	0x00, 0x00, 0x00, 0x0D,
	// chunk type: "IHDR"
	0x49, 0x48, 0x44, 0x52,
}

// table 是固定数据：不支持运行时扩展。
var table = [...]kindSpec{
	{
		kind:      Image,
		restored:  "png",
		scrambled: map[domain.Engine]string{domain.EngineMV: "rpgmvp", domain.EngineMZ: "png_"},
		offset:    0,
		magic:     pngPrologue,
	},
	{
		kind:      OGG,
		restored:  "ogg",
		scrambled: map[domain.Engine]string{domain.EngineMV: "rpgmvo", domain.EngineMZ: "ogg_"},
		offset:    0,
		magic:     []byte("OggS"),
	},
	{
		kind:      M4A,
		restored:  "m4a",
		scrambled: map[domain.Engine]string{domain.EngineMV: "rpgmvm", domain.EngineMZ: "m4a_"},
		offset:    4,
		magic:     []byte("ftyp"),
	},
}

var byExt = func() map[string]Entry {
	m := make(map[string]Entry, len(table)*3)
	for _, s := range table {
		m[s.restored] = Entry{Kind: s.kind, Form: FormRestored}
		for eng, ext := range s.scrambled {
			m[ext] = Entry{Kind: s.kind, Form: FormScrambled, Engine: eng}
		}
	}
	return m
}()

// Classify 按扩展名查表（大小写不敏感，前导 '.' 可选）。
func Classify(ext string) (Entry, bool) {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	e, ok := byExt[ext]
	return e, ok
}

func lookup(k Kind) (kindSpec, bool) {
	for _, s := range table {
		if s.kind == k {
			return s, true
		}
	}
	return kindSpec{}, false
}

// TargetExtension 返回给定方向的输出扩展名（不含 '.'）。
// 加密方向未指定 engine 时按 MV 处理；未知类型返回 ""。
func TargetExtension(k Kind, dir domain.Direction, eng domain.Engine) string {
	s, ok := lookup(k)
	if !ok {
		return ""
	}
	if dir == domain.DirectionDecrypt {
		return s.restored
	}
	if eng == "" {
		eng = domain.EngineMV
	}
	return s.scrambled[eng]
}

// ExpectedPrefix 返回该类型还原后必须出现的魔数及其偏移。
func ExpectedPrefix(k Kind) (offset int, magic []byte) {
	s, ok := lookup(k)
	if !ok {
		return 0, nil
	}
	return s.offset, append([]byte(nil), s.magic...)
}

// Verify 校验还原后的数据开头是否符合该类型的魔数。
func Verify(k Kind, restored []byte) error {
	off, magic := ExpectedPrefix(k)
	if magic == nil {
		return fmt.Errorf("未知资源类型：%v", k)
	}
	end := off + len(magic)
	if len(restored) < end {
		return fmt.Errorf("%w：%s 数据过短（%d 字节）", ErrPrefixMismatch, k, len(restored))
	}
	if got := restored[off:end]; !bytes.Equal(got, magic) {
		return fmt.Errorf("%w：解密后的 %s 文件签名不正确（期望 % X，实际 % X）", ErrPrefixMismatch, k, magic, got)
	}
	return nil
}
