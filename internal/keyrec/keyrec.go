package keyrec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

var (
	ErrUnknownKind   = errors.New("unknown asset kind")
	ErrPartialWindow = errors.New("known-plaintext window incomplete")
)

// FillPolicy 决定已知明文窗口不足 16 字节时，未知位置如何处理。
type FillPolicy string

const (
	// FillTemplate：未知位置按模板的猜测值推导（结果可能只有部分正确）。
	FillTemplate FillPolicy = "template"
	// FillStrict：窗口不完整直接失败。
	FillStrict FillPolicy = "strict"
)

func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FillTemplate):
		return FillTemplate, nil
	case string(FillStrict):
		return FillStrict, nil
	default:
		return "", fmt.Errorf("key_fill 只能是 template 或 strict，实际是 %q", s)
	}
}

// Result 是一次推导的结果。
type Result struct {
	Key  domain.Key
	Kind asset.Kind
	// Known 是真正由已知明文确定的字节数；Complete 等价于 Known==16。
	Known    int
	Complete bool
}

// Recover 用已知明文推导密钥：key[i] = buf[16+i] ^ plain[i]。
//
// 对同一密钥加密的同类文件，结果确定且一致（批处理“首个文件推导后缓存”依赖这一点）。
// 不校验签名；调用方需要时自行用 cipher.HasSignature 检查。
// 推导本身总能成功，结果是否可信由 Check 判断。
func Recover(buf []byte, kind asset.Kind, fill FillPolicy) (Result, error) {
	if len(buf) < cipher.MinEncodedLen {
		return Result{}, &cipher.FormatError{Op: "recover", Len: len(buf), Need: cipher.MinEncodedLen}
	}
	tpl, ok := asset.TemplateFor(kind)
	if !ok {
		return Result{}, fmt.Errorf("%w：%v", ErrUnknownKind, kind)
	}
	refine(kind, buf, &tpl)

	if !tpl.Complete() && fill == FillStrict {
		return Result{}, fmt.Errorf("%w：%s 只能确定 %d/%d 字节", ErrPartialWindow, kind, tpl.KnownCount(), asset.HeaderLen)
	}

	var k domain.Key
	hdr := buf[cipher.SignatureLen:cipher.MinEncodedLen]
	for i := range k {
		k[i] = hdr[i] ^ tpl.Bytes[i]
	}
	return Result{
		Key:      k,
		Kind:     kind,
		Known:    tpl.KnownCount(),
		Complete: tpl.Complete(),
	}, nil
}

// RecoverFromExt 先按扩展名确定类型，再调用 Recover。
// 只接受加密形态的扩展名（例如 rpgmvp / ogg_）。
func RecoverFromExt(buf []byte, ext string, fill FillPolicy) (Result, error) {
	e, ok := asset.Classify(ext)
	if !ok || e.Form != asset.FormScrambled {
		return Result{}, fmt.Errorf("%w：扩展名 %q 不是加密资源", ErrUnknownKind, ext)
	}
	return Recover(buf, e.Kind, fill)
}
