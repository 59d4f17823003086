package asset

// Template 是某类资源头部 16 字节的已知明文窗口。
//
// Known[i]==false 的位置是无法从格式本身确定的字节，Bytes[i] 只是最常见取值的猜测。
type Template struct {
	Bytes [HeaderLen]byte
	Known [HeaderLen]bool
}

// Complete 表示窗口内每个字节都已确定（可以只凭单个文件推导出完整密钥）。
func (t Template) Complete() bool {
	return t.KnownCount() == HeaderLen
}

func (t Template) KnownCount() int {
	n := 0
	for _, k := range t.Known {
		if k {
			n++
		}
	}
	return n
}

// Set 把位置 i 标记为已知。
func (t *Template) Set(i int, b byte) {
	t.Bytes[i] = b
	t.Known[i] = true
}

// TemplateFor 返回类型的已知明文窗口。
//
//   - Image：PNG signature + IHDR 长度 + "IHDR"，16 字节全部已知
//   - OGG：OggS、version=0、BOS=0x02、granule=0 共 14 字节；14..15 为 serial 低两字节
//   - M4A：ftyp box size 高三字节为 0、"ftyp"、major brand "M4A "；
//     box size 低字节（猜 0x20）与 minor version（猜 0）未知
func TemplateFor(k Kind) (Template, bool) {
	var t Template
	switch k {
	case Image:
		for i, b := range pngPrologue {
			t.Set(i, b)
		}
	case OGG:
		copy(t.Bytes[:], "OggS")
		t.Bytes[4] = 0x00
		t.Bytes[5] = 0x02
		for i := 0; i < 14; i++ {
			t.Known[i] = true
		}
	case M4A:
		t.Set(0, 0)
		t.Set(1, 0)
		t.Set(2, 0)
		t.Bytes[3] = 0x20
		for i, b := range []byte("ftypM4A ") {
			t.Set(4+i, b)
		}
	default:
		return Template{}, false
	}
	return t, true
}
