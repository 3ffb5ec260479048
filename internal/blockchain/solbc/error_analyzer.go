// internal/blockchain/solbc/error_analyzer.go
package solbc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// AnchorError - ошибка Anchor-программы, вытащенная из логов.
type AnchorError struct {
	Code int
	Name string
	Msg  string
}

func (a AnchorError) String() string {
	return fmt.Sprintf("%s (%d): %s", a.Name, a.Code, a.Msg)
}

// DescribeTransactionError переводит поле err статуса подписи в читаемый вид.
// Пример: {"InstructionError":[1,{"Custom":6001}]} -> "instruction 1: custom program error 6001".
func DescribeTransactionError(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}:
		if ix, ok := v["InstructionError"].([]interface{}); ok && len(ix) == 2 {
			return fmt.Sprintf("instruction %v: %s", ix[0], describeInstructionError(ix[1]))
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) == 1 {
			return fmt.Sprintf("%s: %v", keys[0], v[keys[0]])
		}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(b)
}

func describeInstructionError(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]interface{}:
		if code, ok := v["Custom"]; ok {
			return fmt.Sprintf("custom program error %v", code)
		}
	}
	b, _ := json.Marshal(raw)
	return string(b)
}

// AnalyzeSendError достаёт из ошибки sendTransaction логи симуляции и ошибку Anchor, если они есть.
func AnalyzeSendError(err error) (logs []string, anchor *AnchorError) {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Data == nil {
		return nil, nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	entries, _ := data["logs"].([]interface{})
	for _, entry := range entries {
		line, ok := entry.(string)
		if !ok {
			continue
		}
		logs = append(logs, line)
		if anchor == nil && strings.Contains(line, "AnchorError occurred") {
			parsed := parseAnchorErrorLog(line)
			anchor = &parsed
		}
	}
	return logs, anchor
}

// parseAnchorErrorLog разбирает строку вида
// "Program log: AnchorError occurred. Error Code: SlippageExceeded. Error Number: 6001. Error Message: Slippage exceeded."
func parseAnchorErrorLog(logStr string) AnchorError {
	result := AnchorError{}

	if parts := strings.Split(logStr, "Error Number:"); len(parts) > 1 {
		fmt.Sscanf(strings.TrimSpace(strings.Split(parts[1], ".")[0]), "%d", &result.Code)
	}
	if parts := strings.Split(logStr, "Error Code:"); len(parts) > 1 {
		result.Name = strings.TrimSpace(strings.Split(parts[1], ".")[0])
	}
	if parts := strings.Split(logStr, "Error Message:"); len(parts) > 1 {
		result.Msg = strings.TrimSpace(strings.Split(parts[1], ".")[0])
	}
	return result
}
