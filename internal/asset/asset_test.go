package asset

import (
	"errors"
	"testing"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

func TestClassify_CaseInsensitiveAndForms(t *testing.T) {
	cases := []struct {
		ext  string
		kind Kind
		form Form
		eng  domain.Engine
	}{
		{"rpgmvp", Image, FormScrambled, domain.EngineMV},
		{".RPGMVO", OGG, FormScrambled, domain.EngineMV},
		{"m4a_", M4A, FormScrambled, domain.EngineMZ},
		{"Png_", Image, FormScrambled, domain.EngineMZ},
		{"PNG", Image, FormRestored, ""},
		{".ogg", OGG, FormRestored, ""},
	}
	for _, c := range cases {
		e, ok := Classify(c.ext)
		if !ok {
			t.Fatalf("Classify(%q) 应命中", c.ext)
		}
		if e.Kind != c.kind || e.Form != c.form || e.Engine != c.eng {
			t.Fatalf("Classify(%q)=%+v，期望 kind=%v form=%v engine=%q", c.ext, e, c.kind, c.form, c.eng)
		}
	}

	for _, ext := range []string{"txt", "", "json", "rpgmv"} {
		if _, ok := Classify(ext); ok {
			t.Fatalf("Classify(%q) 不应命中", ext)
		}
	}
}

func TestTargetExtension(t *testing.T) {
	if got := TargetExtension(Image, domain.DirectionDecrypt, domain.EngineMZ); got != "png" {
		t.Fatalf("解密方向应为 png，实际 %q", got)
	}
	if got := TargetExtension(OGG, domain.DirectionEncrypt, domain.EngineMZ); got != "ogg_" {
		t.Fatalf("MZ 加密应为 ogg_，实际 %q", got)
	}
	if got := TargetExtension(M4A, domain.DirectionEncrypt, ""); got != "rpgmvm" {
		t.Fatalf("未指定 engine 时应按 MV，实际 %q", got)
	}
	if got := TargetExtension(Unknown, domain.DirectionDecrypt, ""); got != "" {
		t.Fatalf("Unknown 应返回空串，实际 %q", got)
	}
}

func TestVerify(t *testing.T) {
	tpl, _ := TemplateFor(Image)
	if err := Verify(Image, tpl.Bytes[:]); err != nil {
		t.Fatalf("PNG 模板应通过校验：%v", err)
	}

	bad := append([]byte(nil), tpl.Bytes[:]...)
	bad[13] ^= 0xFF // IHDR 被破坏
	if err := Verify(Image, bad); !errors.Is(err, ErrPrefixMismatch) {
		t.Fatalf("期望 ErrPrefixMismatch，实际 %v", err)
	}

	m4a := []byte("\x00\x00\x00\x1cftypM4A \x00\x00\x00\x00")
	if err := Verify(M4A, m4a); err != nil {
		t.Fatalf("M4A 应通过校验：%v", err)
	}
	if err := Verify(OGG, []byte("Og")); !errors.Is(err, ErrPrefixMismatch) {
		t.Fatalf("过短数据期望 ErrPrefixMismatch，实际 %v", err)
	}
	if err := Verify(Unknown, tpl.Bytes[:]); err == nil || errors.Is(err, ErrPrefixMismatch) {
		t.Fatalf("未知类型应报类型错误，实际 %v", err)
	}
}

func TestExpectedPrefix(t *testing.T) {
	off, magic := ExpectedPrefix(M4A)
	if off != 4 || string(magic) != "ftyp" {
		t.Fatalf("M4A 期望偏移 4 的 ftyp，实际 %d %q", off, magic)
	}
	magic[0] = 'x'
	if _, again := ExpectedPrefix(M4A); string(again) != "ftyp" {
		t.Fatalf("返回值必须是副本：%q", again)
	}
	if _, magic := ExpectedPrefix(Unknown); magic != nil {
		t.Fatalf("未知类型应返回 nil，实际 % X", magic)
	}
}

func TestTemplateFor_KnownWindows(t *testing.T) {
	want := map[Kind]int{Image: 16, OGG: 14, M4A: 11}
	for _, k := range []Kind{Image, OGG, M4A} {
		tpl, ok := TemplateFor(k)
		if !ok {
			t.Fatalf("%v 应有模板", k)
		}
		if got := tpl.KnownCount(); got != want[k] {
			t.Fatalf("%v 已知字节数=%d，期望 %d", k, got, want[k])
		}
		// 模板本身必须满足该类型的魔数。
		if err := Verify(k, tpl.Bytes[:]); err != nil {
			t.Fatalf("%v 模板未通过校验：%v", k, err)
		}
	}
	if tpl, _ := TemplateFor(Image); !tpl.Complete() {
		t.Fatalf("PNG 模板应完整")
	}
	if _, ok := TemplateFor(Unknown); ok {
		t.Fatalf("Unknown 不应有模板")
	}
}
