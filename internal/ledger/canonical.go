package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON 把任意可 JSON 序列化的数据归一化：键按字典序排列、
// 无多余空白。两份键序不同但逻辑相同的数据会得到同一字节序列。
func CanonicalJSON(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化存证数据失败: %w", err)
	}
	// 经过一次反序列化再序列化，map 键由 encoding/json 统一排序。
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("归一化存证数据失败: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("序列化归一化数据失败: %w", err)
	}
	return canonical, nil
}

// ComputeHash 返回数据规范序列化的 SHA-256 摘要，带 0x 前缀的十六进制。
// 纯函数：相同逻辑内容（无论字段顺序）必然得到相同摘要。
func ComputeHash(data any) (string, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return "0x" + hex.EncodeToString(digest[:]), nil
}
