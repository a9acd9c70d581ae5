package trigger

import (
	"bytes"
	"encoding/json"
)

const wordSize = 32

// Normalize 把只读调用的结果解释为是否执行。
//
// 接受 bool、首元素为 bool 的元组、JSON 文本 true 或 [true, ...]，
// 以及首个 ABI 字为 1 的返回数据；其它形状一律视为不执行。
func Normalize(result any) bool {
	switch v := result.(type) {
	case bool:
		return v
	case []any:
		return len(v) > 0 && isTrue(v[0])
	case []bool:
		return len(v) > 0 && v[0]
	case json.RawMessage:
		return normalizeBytes(v)
	case []byte:
		return normalizeBytes(v)
	case string:
		return normalizeJSON([]byte(v))
	default:
		return false
	}
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func normalizeBytes(data []byte) bool {
	if json.Valid(data) {
		return normalizeJSON(data)
	}
	if len(data) >= wordSize && len(data)%wordSize == 0 {
		return abiTrue(data[:wordSize])
	}
	return false
}

// abiTrue 判断一个 ABI 字是否编码了 bool true。
func abiTrue(word []byte) bool {
	for _, b := range word[:wordSize-1] {
		if b != 0 {
			return false
		}
	}
	return word[wordSize-1] == 1
}

func normalizeJSON(data []byte) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false
	}
	switch v := decoded.(type) {
	case bool:
		return v
	case []any:
		return len(v) > 0 && isTrue(v[0])
	default:
		return false
	}
}
