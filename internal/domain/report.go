package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusWritten = "written"
	StatusPlanned = "planned" // dry-run：已完成变换与校验，但未落盘
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const (
	ErrCodeTooShort       = "too_short"
	ErrCodeUnknownKind    = "unknown_kind"
	ErrCodeUnsupportedExt = "unsupported_ext"
	ErrCodeAlreadyTarget  = "already_target"
	ErrCodeBadSignature   = "bad_signature"
	ErrCodeKeyUnresolved  = "key_unresolved"
	ErrCodePrefixMismatch = "prefix_mismatch"
	ErrCodeIOFailed       = "io_failed"
	ErrCodeTargetConflict = "target_conflict"
	ErrCodeTargetExists   = "target_exists"
	ErrCodeAborted        = "aborted"
	ErrCodeCanceled       = "canceled"
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeConfigNotFound = "config_not_found"
)

const (
	KeySourceExplicit   = "explicit"
	KeySourceSystemJSON = "system_json"
	KeySourceRecovered  = "recovered"
	KeySourcePerFile    = "per_file"
)

// RunReport 是对外稳定输出（--report / stdout JSON）的结构。
type RunReport struct {
	RunID     string `json:"run_id"`
	Path      string `json:"path"`
	Output    string `json:"output"`
	Direction string `json:"direction"`
	Engine    string `json:"engine"`
	DryRun    bool   `json:"dry_run"`
	Strict    bool   `json:"strict"`

	Key       string `json:"key"`
	KeySource string `json:"key_source"`
	// KeyFrom 是推导出密钥的文件（相对 Path；explicit 时为空）。
	KeyFrom     string `json:"key_from"`
	KeyComplete bool   `json:"key_complete"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []FileResult  `json:"items"`
}

type ReportSummary struct {
	Written int   `json:"written"`
	Planned int   `json:"planned"`
	Skipped int   `json:"skipped"`
	Failed  int   `json:"failed"`
	Bytes   int64 `json:"bytes"`
}

// FileResult 是单个文件的最终结果；记录后不再修改。
type FileResult struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Kind string `json:"kind"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Bytes int64 `json:"bytes"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 src 字典序；src=="" 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Items == nil {
		r.Items = []FileResult{}
	}

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].Src
		b := r.Items[j].Src
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusWritten:
			s.Written++
			s.Bytes += it.Bytes
		case StatusPlanned:
			s.Planned++
			s.Bytes += it.Bytes
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// OK 表示本次运行没有任何失败（skipped 不算失败）。
func (r RunReport) OK() bool { return r.Summary.Failed == 0 && !r.Aborted }

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
