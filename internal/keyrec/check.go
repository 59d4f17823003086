package keyrec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/John-Robertt/RPGMX/internal/asset"
)

// ErrImplausible 表示还原后的数据在已知明文窗口之外对不上（文件不是所声明的类型，或密钥不对）。
var ErrImplausible = errors.New("restored data fails structural check")

// Check 校验用某个密钥还原后的数据是否可信。
//
// 推导出的密钥总能把头部还原成模板，magic 必然匹配；
// 可信度只能由窗口之外的字节给出：
//   - PNG：IHDR 的 CRC（还原偏移 29..32）必须与 12..28 一致
//   - OGG：首个 page 的 CRC（还原偏移 22..25）必须覆盖整页，同时验证 serial
//   - M4A：ftyp 的 compatible brands 与下一个 box 类型必须是可打印 ASCII
func Check(kind asset.Kind, restored []byte) error {
	if err := asset.Verify(kind, restored); err != nil {
		return err
	}
	switch kind {
	case asset.Image:
		return checkPNG(restored)
	case asset.OGG:
		return checkOGG(restored)
	case asset.M4A:
		return checkM4A(restored)
	default:
		return fmt.Errorf("%w：%v", ErrUnknownKind, kind)
	}
}

func checkPNG(r []byte) error {
	const crcEnd = 33
	if len(r) < crcEnd {
		return fmt.Errorf("%w：PNG 数据过短，无法覆盖 IHDR（%d 字节）", ErrImplausible, len(r))
	}
	want := binary.BigEndian.Uint32(r[29:crcEnd])
	if got := crc32.ChecksumIEEE(r[12:29]); got != want {
		return fmt.Errorf("%w：IHDR CRC 不匹配（期望 %08x，实际 %08x）", ErrImplausible, want, got)
	}
	return nil
}

func checkOGG(r []byte) error {
	size, ok := oggPageLen(r)
	if !ok || size > len(r) {
		return fmt.Errorf("%w：OGG 首个 page 不完整", ErrImplausible)
	}
	want := binary.LittleEndian.Uint32(r[22:26])
	if got := oggPageCRC(r[:size]); got != want {
		return fmt.Errorf("%w：OGG page CRC 不匹配（期望 %08x，实际 %08x）", ErrImplausible, want, got)
	}
	return nil
}

func checkM4A(r []byte) error {
	size := int(binary.BigEndian.Uint32(r[0:4]))
	if size < 16 || size%4 != 0 || size+8 > len(r) {
		return fmt.Errorf("%w：ftyp size=%d 不合理", ErrImplausible, size)
	}
	if !printable(r[16:size]) {
		return fmt.Errorf("%w：ftyp compatible brands 不是 ASCII", ErrImplausible)
	}
	if !printable(r[size+4 : size+8]) {
		return fmt.Errorf("%w：ftyp 之后不是合法的 box", ErrImplausible)
	}
	return nil
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// oggPageLen 由页头与段表计算 page 总长度；段表本身不完整时返回 false。
func oggPageLen(r []byte) (int, bool) {
	if len(r) < 27 {
		return 0, false
	}
	nseg := int(r[26])
	if len(r) < 27+nseg {
		return 0, false
	}
	size := 27 + nseg
	for _, s := range r[27 : 27+nseg] {
		size += int(s)
	}
	return size, true
}

// Ogg 的 CRC32：多项式 0x04c11db7，不反射，初值与结果异或均为 0。
// hash/crc32 只提供反射形式，这里单独建表。
var oggTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(crc uint32, b []byte) uint32 {
	for _, c := range b {
		crc = crc<<8 ^ oggTable[byte(crc>>24)^c]
	}
	return crc
}

// oggPageCRC 计算整页 CRC，CRC 字段（偏移 22..25）按 0 参与计算。
func oggPageCRC(page []byte) uint32 {
	crc := oggCRC(0, page[:22])
	crc = oggCRC(crc, []byte{0, 0, 0, 0})
	return oggCRC(crc, page[26:])
}
