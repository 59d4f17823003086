package domain

// AssetFile 描述一次扫描得到的文件（只做 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - RelPath 相对扫描根目录；单文件模式下等于文件名
// - Ext 为小写且不含前导 '.'（例如 "rpgmvp"、"png_"）
type AssetFile struct {
	AbsPath string
	RelPath string
	Base    string // filename without ext
	Ext     string
	Size    int64
	ModUnix int64
}
