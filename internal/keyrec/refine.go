package keyrec

import (
	"bytes"
	"encoding/binary"

	"github.com/John-Robertt/RPGMX/internal/asset"
	"github.com/John-Robertt/RPGMX/internal/cipher"
)

// refine 利用未被加密的 body 补全模板中的未知字节。
//
// 还原后偏移 d（d>=16）的字节在加密文件中位于 d+16，且未被修改。
func refine(kind asset.Kind, buf []byte, tpl *asset.Template) {
	switch kind {
	case asset.OGG:
		refineOGG(buf, tpl)
	case asset.M4A:
		refineM4A(buf, tpl)
	}
}

var oggCapture = []byte("OggS")

// refineOGG 补全 bitstream serial 的低两字节（还原偏移 14..15）：
//  1. 读第二个 page（同一逻辑流的所有 page 共享 serial），其 serial 高两字节
//     （首页还原偏移 16..17，位于 body）必须与首页一致；
//  2. 没有第二个 page 时，用首页的 page CRC 反解这两个字节，仅在解唯一时采用。
func refineOGG(buf []byte, tpl *asset.Template) {
	const base = cipher.SignatureLen

	// 首个 page 的段表在还原偏移 26 起，全部位于 body。
	size, ok := oggPageLen(buf[base:])
	if ok && applyOGGSerial(buf, base+size, tpl) {
		return
	}

	// 兜底：在 body 中搜索下一个 capture pattern。
	for from := cipher.MinEncodedLen; from < len(buf); {
		idx := bytes.Index(buf[from:], oggCapture)
		if idx < 0 {
			break
		}
		if applyOGGSerial(buf, from+idx, tpl) {
			return
		}
		from += idx + 1
	}

	if ok {
		solveOGGSerial(buf, size, tpl)
	}
}

// solveOGGSerial 枚举 serial 低两字节，找出使首页 CRC 成立的取值。
// CRC 初值为 0 且无结果异或，对等长消息是线性的：
// crc(page) = crc(page 中这两字节置 0) ^ crc(只含这两字节的等长消息)。
func solveOGGSerial(buf []byte, size int, tpl *asset.Template) {
	const base = cipher.SignatureLen
	if base+size > len(buf) {
		return
	}
	page := make([]byte, size)
	copy(page[:asset.HeaderLen], tpl.Bytes[:])
	copy(page[asset.HeaderLen:], buf[base+asset.HeaderLen:base+size])
	page[14], page[15] = 0, 0
	rest := oggPageCRC(page) ^ binary.LittleEndian.Uint32(page[22:26])

	var lo, hi [256]uint32
	unit := make([]byte, size)
	for v := 0; v < 256; v++ {
		unit[14], unit[15] = byte(v), 0
		lo[v] = oggPageCRC(unit)
		unit[14], unit[15] = 0, byte(v)
		hi[v] = oggPageCRC(unit)
	}

	found, a, b := 0, 0, 0
	for x := 0; x < 256; x++ {
		for y := 0; y < 256; y++ {
			if rest^lo[x]^hi[y] == 0 {
				found++
				a, b = x, y
			}
		}
	}
	if found == 1 {
		tpl.Set(14, byte(a))
		tpl.Set(15, byte(b))
	}
}

func applyOGGSerial(buf []byte, page int, tpl *asset.Template) bool {
	const base = cipher.SignatureLen
	if page < cipher.MinEncodedLen || page+18 > len(buf) {
		return false
	}
	if !bytes.Equal(buf[page:page+4], oggCapture) {
		return false
	}
	// serial 高两字节必须与首个 page 一致。
	if buf[page+16] != buf[base+16] || buf[page+17] != buf[base+17] {
		return false
	}
	tpl.Set(14, buf[page+14])
	tpl.Set(15, buf[page+15])
	return true
}

var m4aNextBoxes = [][]byte{
	[]byte("moov"), []byte("mdat"), []byte("free"), []byte("skip"),
	[]byte("wide"), []byte("uuid"), []byte("pnot"), []byte("meta"),
}

// refineM4A 通过定位 ftyp 之后的下一个 box 推出 ftyp 的 size 低字节。
// minor version（还原偏移 12..15）无法从文件其它位置得到，保持未知。
func refineM4A(buf []byte, tpl *asset.Template) {
	const base = cipher.SignatureLen
	// ftyp size = 16 + 4*len(compatible_brands)，且必须落在 body 内。
	for size := 16; size <= 252; size += 4 {
		typ := base + size + 4
		if typ+4 > len(buf) {
			return
		}
		for _, b := range m4aNextBoxes {
			if bytes.Equal(buf[typ:typ+4], b) {
				tpl.Set(3, byte(size))
				return
			}
		}
	}
}
