package cipher

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/John-Robertt/RPGMX/internal/domain"
)

func seqKey() domain.Key {
	var k domain.Key
	for i := range k {
		k[i] = byte(i + 1) // 0102...10
	}
	return k
}

func TestRestore_ScenarioPNG48Bytes(t *testing.T) {
	plain := make([]byte, 32)
	copy(plain, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}) // 8 字节魔数 + 8 字节 pad + 16 字节零 body

	enc, err := Scramble(plain, seqKey())
	if err != nil {
		t.Fatalf("Scramble 失败：%v", err)
	}
	if len(enc) != 48 {
		t.Fatalf("期望 48 字节，实际 %d", len(enc))
	}
	if !HasSignature(enc) {
		t.Fatalf("加密结果缺少固定签名")
	}

	got, err := Restore(enc, seqKey())
	if err != nil {
		t.Fatalf("Restore 失败：%v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("还原结果不一致：\n got=% X\nwant=% X", got, plain)
	}
}

func TestRestore_TooShort31Bytes(t *testing.T) {
	buf := make([]byte, 31)
	copy(buf, Signature[:])

	out, err := Restore(buf, seqKey())
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("期望 ErrTooShort，实际 %v", err)
	}
	if out != nil {
		t.Fatalf("失败时不应返回部分结果")
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Len != 31 || fe.Need != MinEncodedLen {
		t.Fatalf("FormatError 字段不正确：%#v", err)
	}
}

func TestScramble_TooShort(t *testing.T) {
	if _, err := Scramble(make([]byte, 15), seqKey()); !errors.Is(err, ErrTooShort) {
		t.Fatalf("期望 ErrTooShort，实际 %v", err)
	}
	// 恰好 16 字节合法：body 为空。
	out, err := Scramble(make([]byte, 16), seqKey())
	if err != nil || len(out) != MinEncodedLen {
		t.Fatalf("16 字节应可加密：len=%d err=%v", len(out), err)
	}
}

func TestRoundTrip_RandomBuffersAndKeys(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		size := 16 + r.Intn(200)
		plain := make([]byte, size)
		r.Read(plain)
		var k domain.Key
		r.Read(k[:])

		orig := append([]byte(nil), plain...)
		enc, err := Scramble(plain, k)
		if err != nil {
			t.Fatalf("Scramble 失败：%v", err)
		}
		if !bytes.Equal(plain, orig) {
			t.Fatalf("Scramble 不应修改输入")
		}
		dec, err := Restore(enc, k)
		if err != nil {
			t.Fatalf("Restore 失败：%v", err)
		}
		if !bytes.Equal(dec, plain) {
			t.Fatalf("restore(scramble(x)) != x（size=%d）", size)
		}

		// 反方向：scramble(restore(y)) == y（y 以签名开头）。
		again, err := Scramble(dec, k)
		if err != nil {
			t.Fatalf("Scramble 失败：%v", err)
		}
		if !bytes.Equal(again, enc) {
			t.Fatalf("scramble(restore(y)) != y（size=%d）", size)
		}
	}
}

func TestRestore_BodyUntouched(t *testing.T) {
	enc := make([]byte, 64)
	copy(enc, Signature[:])
	for i := 32; i < 64; i++ {
		enc[i] = byte(i)
	}
	out, err := Restore(enc, seqKey())
	if err != nil {
		t.Fatalf("Restore 失败：%v", err)
	}
	if !bytes.Equal(out[16:], enc[32:]) {
		t.Fatalf("body 不应被修改")
	}
	for i := 0; i < 16; i++ {
		if out[i] != byte(i+1) {
			t.Fatalf("头部第 %d 字节应为 %#x，实际 %#x", i, i+1, out[i])
		}
	}
}
