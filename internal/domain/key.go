package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeyLen 是头部密钥的固定长度（字节）。
const KeyLen = 16

// ErrInvalidKey 表示密钥字符串不是 32 位十六进制。
var ErrInvalidKey = errors.New("invalid key")

// Key 是一次批处理共享的 16 字节密钥（同一个游戏的所有资源共用一个 Key）。
//
// 约束：值类型，拿到后不可变；对外统一表示为 32 位小写十六进制。
type Key [KeyLen]byte

// ParseKey 解析 32 位十六进制密钥（大小写均可，允许首尾空白）。
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if len(s) != KeyLen*2 {
		return Key{}, fmt.Errorf("%w：密钥必须是 %d 位十六进制，实际长度 %d", ErrInvalidKey, KeyLen*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w：%v", ErrInvalidKey, err)
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }

func (k Key) IsZero() bool { return k == Key{} }
