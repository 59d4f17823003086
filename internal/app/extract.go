package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/RPGMX/internal/cipher"
	"github.com/John-Robertt/RPGMX/internal/domain"
	"github.com/John-Robertt/RPGMX/internal/keyrec"
	"github.com/John-Robertt/RPGMX/internal/project"
)

// ErrNoKeySource 表示给定文件既不是 System.json 也不是加密资源。
var ErrNoKeySource = errors.New("只能从 System.json 或加密资源文件提取密钥")

// KeyInfo 是 extract-key 的结果。
type KeyInfo struct {
	Key      domain.Key `json:"-"`
	Hex      string     `json:"key"`
	Source   string     `json:"source"`
	File     string     `json:"file"`
	Kind     string     `json:"kind,omitempty"`
	Complete bool       `json:"complete"`
}

// ExtractKey 只推导密钥，不写任何文件。
func ExtractKey(path string, fill keyrec.FillPolicy) (KeyInfo, error) {
	name := filepath.Base(path)
	if strings.EqualFold(name, "System.json") {
		b, err := os.ReadFile(path)
		if err != nil {
			return KeyInfo{}, err
		}
		sys, err := project.ParseSystem(b)
		if err != nil {
			return KeyInfo{}, err
		}
		k, err := sys.Key()
		if err != nil {
			return KeyInfo{}, err
		}
		return KeyInfo{Key: k, Hex: k.String(), Source: domain.KeySourceSystemJSON, File: path, Complete: true}, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return KeyInfo{}, err
	}
	res, err := keyrec.RecoverFromExt(b, filepath.Ext(name), fill)
	if errors.Is(err, keyrec.ErrUnknownKind) {
		return KeyInfo{}, fmt.Errorf("%w：%q", ErrNoKeySource, name)
	}
	if err != nil {
		return KeyInfo{}, err
	}
	if !cipher.HasSignature(b) {
		return KeyInfo{}, fmt.Errorf("%w：%q", cipher.ErrNoSignature, name)
	}
	restored, err := cipher.Restore(b, res.Key)
	if err != nil {
		return KeyInfo{}, err
	}
	if err := keyrec.Check(res.Kind, restored); err != nil {
		return KeyInfo{}, fmt.Errorf("%q 推导出的密钥不可信：%w", name, err)
	}
	return KeyInfo{
		Key:      res.Key,
		Hex:      res.Key.String(),
		Source:   domain.KeySourceRecovered,
		File:     path,
		Kind:     res.Kind.String(),
		Complete: res.Complete,
	}, nil
}
