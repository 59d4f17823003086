package keyrec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/domain"
)

func testKey(t *testing.T) domain.Key {
	t.Helper()
	k, err := domain.ParseKey("d41d8cd98f00b204e9800998ecf8427e")
	if err != nil {
		t.Fatalf("ParseKey 失败：%v", err)
	}
	return k
}

func pngPlain() []byte {
	tpl, _ := asset.TemplateFor(asset.Image)
	b := append([]byte(nil), tpl.Bytes[:]...)
	// IHDR data：32x16、8 位 RGBA。
	b = append(b, 0, 0, 0, 32, 0, 0, 0, 16, 8, 6, 0, 0, 0)
	b = binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b[12:29]))
	return append(b, bytes.Repeat([]byte{0xAB}, 40)...)
}

func oggPage(serial uint32, seq uint32, headerType byte, payload []byte) []byte {
	var p []byte
	p = append(p, "OggS"...)
	p = append(p, 0x00, headerType)
	p = append(p, make([]byte, 8)...) // granule
	p = binary.LittleEndian.AppendUint32(p, serial)
	p = binary.LittleEndian.AppendUint32(p, seq)
	p = append(p, 0, 0, 0, 0) // crc
	p = append(p, 1, byte(len(payload)))
	p = append(p, payload...)
	binary.LittleEndian.PutUint32(p[22:26], oggPageCRC(p))
	return p
}

func oggPlain(serial uint32) []byte {
	b := oggPage(serial, 0, 0x02, bytes.Repeat([]byte{0x01}, 30))
	return append(b, oggPage(serial, 1, 0x00, bytes.Repeat([]byte{0x02}, 10))...)
}

func m4aPlain(minor uint32) []byte {
	var b []byte
	b = binary.BigEndian.AppendUint32(b, 28)
	b = append(b, "ftypM4A "...)
	b = binary.BigEndian.AppendUint32(b, minor)
	b = append(b, "M4A mp42isom"...)
	b = binary.BigEndian.AppendUint32(b, 8)
	b = append(b, "free"...)
	return append(b, make([]byte, 16)...)
}

func mustScramble(t *testing.T, plain []byte, k domain.Key) []byte {
	t.Helper()
	enc, err := cipher.Scramble(plain, k)
	if err != nil {
		t.Fatalf("Scramble 失败：%v", err)
	}
	return enc
}

func TestRecover_ImageFullWindow(t *testing.T) {
	k := testKey(t)
	enc := mustScramble(t, pngPlain(), k)

	res, err := Recover(enc, asset.Image, FillStrict)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Key != k || !res.Complete || res.Known != 16 {
		t.Fatalf("推导结果不正确：%+v（期望 key=%s）", res, k)
	}

	// 确定性：重复推导结果一致。
	again, _ := Recover(enc, asset.Image, FillStrict)
	if again != res {
		t.Fatalf("推导结果应确定：%+v vs %+v", again, res)
	}
}

func TestRecover_ExtractedKeyReproducesFile(t *testing.T) {
	k := testKey(t)
	plain := pngPlain()
	enc := mustScramble(t, plain, k)

	res, err := RecoverFromExt(enc, "rpgmvp", FillTemplate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	again := mustScramble(t, plain, res.Key)
	if !bytes.Equal(again, enc) {
		t.Fatalf("用推导出的密钥重新加密应逐字节一致")
	}
}

func TestRecover_OGGSerialFromSecondPage(t *testing.T) {
	k := testKey(t)
	enc := mustScramble(t, oggPlain(0x7A3B1C2D), k)

	res, err := Recover(enc, asset.OGG, FillStrict)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !res.Complete || res.Key != k {
		t.Fatalf("OGG 应能推导出完整密钥：%+v（期望 %s）", res, k)
	}
}

func TestRecover_OGGSerialFromPageCRC(t *testing.T) {
	k := testKey(t)
	plain := oggPage(0x7A3B1C2D, 0, 0x02, bytes.Repeat([]byte{0x01}, 30))
	enc := mustScramble(t, plain, k)

	res, err := Recover(enc, asset.OGG, FillStrict)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !res.Complete || res.Key != k {
		t.Fatalf("没有第二页时应由 page CRC 解出 serial：%+v（期望 %s）", res, k)
	}
}

func TestRecover_OGGBadCRCWithoutSecondPage_Partial(t *testing.T) {
	k := testKey(t)
	plain := oggPage(0x7A3B1C2D, 0, 0x02, bytes.Repeat([]byte{0x01}, 30))
	plain[22] ^= 0xFF
	enc := mustScramble(t, plain, k)

	if _, err := Recover(enc, asset.OGG, FillStrict); !errors.Is(err, ErrPartialWindow) {
		t.Fatalf("strict 下期望 ErrPartialWindow，实际 %v", err)
	}
	res, err := Recover(enc, asset.OGG, FillTemplate)
	if err != nil {
		t.Fatalf("template 下不期望错误：%v", err)
	}
	if res.Complete || res.Known != 14 {
		t.Fatalf("期望 14 字节已知，实际 %+v", res)
	}
	if !bytes.Equal(res.Key[:14], k[:14]) {
		t.Fatalf("已知部分必须正确：%s vs %s", res.Key, k)
	}
}

func TestRecover_M4APartialWindow(t *testing.T) {
	k := testKey(t)

	enc := mustScramble(t, m4aPlain(0), k)
	res, err := Recover(enc, asset.M4A, FillTemplate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// size 低字节由下一个 box 推出；minor version 仍未知（但猜测值 0 恰好命中）。
	if res.Known != 12 || res.Complete {
		t.Fatalf("期望 12 字节已知，实际 %+v", res)
	}
	if res.Key != k {
		t.Fatalf("minor=0 时密钥应完全正确：%s vs %s", res.Key, k)
	}

	enc2 := mustScramble(t, m4aPlain(0x200), k)
	res2, _ := Recover(enc2, asset.M4A, FillTemplate)
	if res2.Key == k {
		t.Fatalf("minor!=0 时未知字节不可能猜中")
	}
	if !bytes.Equal(res2.Key[:12], k[:12]) {
		t.Fatalf("已知部分必须正确")
	}

	if _, err := Recover(enc, asset.M4A, FillStrict); !errors.Is(err, ErrPartialWindow) {
		t.Fatalf("strict 下期望 ErrPartialWindow，实际 %v", err)
	}
}

func TestRecover_Errors(t *testing.T) {
	if _, err := Recover(make([]byte, 31), asset.Image, FillTemplate); !errors.Is(err, cipher.ErrTooShort) {
		t.Fatalf("期望 ErrTooShort，实际 %v", err)
	}
	if _, err := Recover(make([]byte, 64), asset.Unknown, FillTemplate); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("期望 ErrUnknownKind，实际 %v", err)
	}
	if _, err := RecoverFromExt(make([]byte, 64), "png", FillTemplate); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("解密后的扩展名不能用于推导，期望 ErrUnknownKind，实际 %v", err)
	}
	if _, err := RecoverFromExt(make([]byte, 64), "txt", FillTemplate); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("期望 ErrUnknownKind，实际 %v", err)
	}
}

func TestOggCRC_CheckValue(t *testing.T) {
	// CRC-32/POSIX 去掉结果异或后的校验值。
	if got := oggCRC(0, []byte("123456789")); got != 0x89a1897f {
		t.Fatalf("期望 89a1897f，实际 %08x", got)
	}
}

func restore(t *testing.T, enc []byte, k domain.Key) []byte {
	t.Helper()
	out, err := cipher.Restore(enc, k)
	if err != nil {
		t.Fatalf("Restore 失败：%v", err)
	}
	return out
}

func TestCheck_AcceptsRecoveredKeys(t *testing.T) {
	k := testKey(t)
	cases := []struct {
		kind  asset.Kind
		plain []byte
	}{
		{asset.Image, pngPlain()},
		{asset.OGG, oggPlain(0x7A3B1C2D)},
		{asset.M4A, m4aPlain(0x200)},
	}
	for _, c := range cases {
		enc := mustScramble(t, c.plain, k)
		res, err := Recover(enc, c.kind, FillTemplate)
		if err != nil {
			t.Fatalf("%s：不期望错误：%v", c.kind, err)
		}
		if err := Check(c.kind, restore(t, enc, res.Key)); err != nil {
			t.Fatalf("%s：真实文件应通过校验：%v", c.kind, err)
		}
	}
}

func TestCheck_RejectsForeignBody(t *testing.T) {
	k := testKey(t)

	// 带签名但内容是 JPEG：推导总能“成功”，校验必须拒绝。
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}
	jpeg = append(jpeg, bytes.Repeat([]byte{0x00, 0x01, 0xFF, 0xDB}, 12)...)
	enc := mustScramble(t, jpeg, k)
	for _, kind := range []asset.Kind{asset.Image, asset.OGG, asset.M4A} {
		res, err := Recover(enc, kind, FillTemplate)
		if err != nil {
			t.Fatalf("%s：不期望错误：%v", kind, err)
		}
		if err := Check(kind, restore(t, enc, res.Key)); !errors.Is(err, ErrImplausible) {
			t.Fatalf("%s：期望 ErrImplausible，实际 %v", kind, err)
		}
	}
}

func TestCheck_DetectsWrongSerialAndTruncation(t *testing.T) {
	k := testKey(t)
	plain := oggPlain(0x7A3B1C2D)
	enc := mustScramble(t, plain, k)

	// serial 低字节错一位：magic 仍然匹配，CRC 不匹配。
	bad := k
	bad[14] ^= 0x01
	if err := Check(asset.OGG, restore(t, enc, bad)); !errors.Is(err, ErrImplausible) {
		t.Fatalf("期望 ErrImplausible，实际 %v", err)
	}

	short := restore(t, enc, k)[:40]
	if err := Check(asset.OGG, short); !errors.Is(err, ErrImplausible) {
		t.Fatalf("首页不完整应拒绝，实际 %v", err)
	}
	if err := Check(asset.Image, restore(t, mustScramble(t, pngPlain()[:30], k), k)); !errors.Is(err, ErrImplausible) {
		t.Fatalf("PNG 过短应拒绝，实际 %v", err)
	}
	if err := Check(asset.Image, make([]byte, 64)); !errors.Is(err, asset.ErrPrefixMismatch) {
		t.Fatalf("magic 不匹配应返回 ErrPrefixMismatch，实际 %v", err)
	}
}

func TestParseFillPolicy(t *testing.T) {
	if p, err := ParseFillPolicy(""); err != nil || p != FillTemplate {
		t.Fatalf("默认应为 template，实际 %q err=%v", p, err)
	}
	if p, err := ParseFillPolicy("STRICT"); err != nil || p != FillStrict {
		t.Fatalf("期望 strict，实际 %q err=%v", p, err)
	}
	if _, err := ParseFillPolicy("zero"); err == nil {
		t.Fatalf("非法值应报错")
	}
}
