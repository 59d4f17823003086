package cipher

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

// 加密资源布局：[固定签名 16][被异或的原始头部 16][原样 body]
const (
	SignatureLen  = 16
	HeaderLen     = domain.KeyLen
	MinEncodedLen = SignatureLen + HeaderLen
)

// Signature 是与密钥无关的固定标记（"RPGMV" + 版本字节）。
var Signature = [SignatureLen]byte{
	0x52, 0x50, 0x47, 0x4D, 0x56, 0x00, 0x00, 0x00,
	0x00, 0x03, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var (
	ErrTooShort    = errors.New("buffer too short")
	ErrNoSignature = errors.New("missing RPGMV signature")
)

// FormatError 描述输入长度不满足操作的最小头部要求。
type FormatError struct {
	Op   string
	Len  int
	Need int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s：数据过短（%d 字节，至少需要 %d 字节）", e.Op, e.Len, e.Need)
}

func (e *FormatError) Unwrap() error { return ErrTooShort }

// Restore 去掉签名并还原头部：header[i] = buf[16+i] ^ key[i]，body 原样保留。
// 返回新切片，不修改 buf。
func Restore(buf []byte, key domain.Key) ([]byte, error) {
	if len(buf) < MinEncodedLen {
		return nil, &FormatError{Op: "restore", Len: len(buf), Need: MinEncodedLen}
	}
	out := make([]byte, len(buf)-SignatureLen)
	copy(out, buf[SignatureLen:])
	xorHeader(out, key)
	return out, nil
}

// Scramble 是 Restore 的逆：signature ++ (buf[:16] ^ key) ++ buf[16:]。
func Scramble(buf []byte, key domain.Key) ([]byte, error) {
	if len(buf) < HeaderLen {
		return nil, &FormatError{Op: "scramble", Len: len(buf), Need: HeaderLen}
	}
	out := make([]byte, SignatureLen+len(buf))
	copy(out, Signature[:])
	copy(out[SignatureLen:], buf)
	xorHeader(out[SignatureLen:], key)
	return out, nil
}

// HasSignature 判断 buf 是否以固定签名开头。
func HasSignature(buf []byte) bool {
	return len(buf) >= SignatureLen && bytes.Equal(buf[:SignatureLen], Signature[:])
}

func xorHeader(b []byte, key domain.Key) {
	for i := 0; i < HeaderLen; i++ {
		b[i] ^= key[i]
	}
}
