package domain

import (
	"fmt"
	"strings"
)

// Direction 是一次批处理的方向。
type Direction string

const (
	DirectionDecrypt Direction = "decrypt"
	DirectionEncrypt Direction = "encrypt"
)

// Engine 是引擎变体，只影响加密后的扩展名（MV: .rpgmvp，MZ: .png_）。
type Engine string

const (
	EngineMV Engine = "mv"
	EngineMZ Engine = "mz"
)

// ParseEngine 解析 mv/mz（大小写不敏感）；空串返回 ""（表示未指定）。
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "mv":
		return EngineMV, nil
	case "mz":
		return EngineMZ, nil
	default:
		return "", fmt.Errorf("engine 只能是 mv 或 mz，实际是 %q", s)
	}
}

// KeyMode 决定未显式给出密钥时的解密策略。
type KeyMode string

const (
	// KeyModeBatch：从首个可用文件推导一次并缓存，整批共用。
	KeyModeBatch KeyMode = "batch"
	// KeyModePerFile：每个文件各自推导（不同文件密钥不同的罕见情况）。
	KeyModePerFile KeyMode = "per_file"
)

func ParseKeyMode(s string) (KeyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "batch":
		return KeyModeBatch, nil
	case "per_file", "per-file":
		return KeyModePerFile, nil
	default:
		return "", fmt.Errorf("key_mode 只能是 batch 或 per_file，实际是 %q", s)
	}
}
