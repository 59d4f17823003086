package app

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
	"github.com/John-Robertt/RPGMX/internal/project"
)

func TestExtractKey_ScrambledImageReproducesFile(t *testing.T) {
	dir := t.TempDir()
	k, _ := domain.ParseKey("0f1e2d3c4b5a69788796a5b4c3d2e1f0")

	tpl, _ := asset.TemplateFor(asset.Image)
	plain := append([]byte(nil), tpl.Bytes[:]...)
	plain = append(plain, 0, 0, 0x01, 0x00, 0, 0, 0x00, 0xC0, 8, 2, 0, 0, 0) // 256x192 RGB
	plain = binary.BigEndian.AppendUint32(plain, crc32.ChecksumIEEE(plain[12:29]))
	plain = append(plain, bytes.Repeat([]byte{0x42}, 64)...)
	enc, err := cipher.Scramble(plain, k)
	if err != nil {
		t.Fatalf("Scramble 失败：%v", err)
	}
	p := filepath.Join(dir, "Actor1.rpgmvp")
	writeBytes(t, p, enc)

	info, err := ExtractKey(p, keyrec.FillTemplate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if info.Hex != k.String() || info.Source != domain.KeySourceRecovered || !info.Complete {
		t.Fatalf("提取结果不正确：%+v", info)
	}

	again, err := cipher.Scramble(plain, info.Key)
	if err != nil {
		t.Fatalf("Scramble 失败：%v", err)
	}
	if !bytes.Equal(again, enc) {
		t.Fatalf("用提取的密钥重新加密应逐字节一致")
	}

	// 不写任何文件。
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("extract-key 不应写文件：%d 个条目", len(entries))
	}
}

func TestExtractKey_SystemJSON(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "System.json")
	writeBytes(t, p, []byte(`{"encryptionKey":"D41D8CD98F00B204E9800998ECF8427E"}`))

	info, err := ExtractKey(p, keyrec.FillTemplate)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if info.Hex != "d41d8cd98f00b204e9800998ecf8427e" || info.Source != domain.KeySourceSystemJSON {
		t.Fatalf("提取结果不正确：%+v", info)
	}

	writeBytes(t, p, []byte(`{"gameTitle":"x"}`))
	if _, err := ExtractKey(p, keyrec.FillTemplate); !errors.Is(err, project.ErrNoKeyInSystem) {
		t.Fatalf("期望 ErrNoKeyInSystem，实际 %v", err)
	}
}

func TestExtractKey_Errors(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "a.png")
	writeBytes(t, txt, make([]byte, 64))
	if _, err := ExtractKey(txt, keyrec.FillTemplate); !errors.Is(err, ErrNoKeySource) {
		t.Fatalf("期望 ErrNoKeySource，实际 %v", err)
	}

	short := filepath.Join(dir, "b.rpgmvp")
	writeBytes(t, short, cipher.Signature[:])
	if _, err := ExtractKey(short, keyrec.FillTemplate); !errors.Is(err, cipher.ErrTooShort) {
		t.Fatalf("期望 ErrTooShort，实际 %v", err)
	}

	noSig := filepath.Join(dir, "c.rpgmvp")
	writeBytes(t, noSig, make([]byte, 64))
	if _, err := ExtractKey(noSig, keyrec.FillTemplate); !errors.Is(err, cipher.ErrNoSignature) {
		t.Fatalf("期望 ErrNoSignature，实际 %v", err)
	}

	// 有签名但内容不是 OGG：推导本身总能成功，必须由窗口外校验拒绝。
	junk := filepath.Join(dir, "d.rpgmvo")
	writeBytes(t, junk, append(append([]byte(nil), cipher.Signature[:]...), bytes.Repeat([]byte{0x5a}, 64)...))
	if _, err := ExtractKey(junk, keyrec.FillTemplate); !errors.Is(err, keyrec.ErrImplausible) {
		t.Fatalf("期望 ErrImplausible，实际 %v", err)
	}
}

func writeBytes(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
