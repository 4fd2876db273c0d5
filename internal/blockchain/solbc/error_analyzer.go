package solbc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// AnchorError – ошибка программы на Anchor
type AnchorError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// SendFailure – то, что удалось извлечь из неудачной отправки или preflight.
type SendFailure struct {
	Code              int
	Message           string
	SimulationFailed  bool
	Logs              []string
	Anchor            *AnchorError
	InstructionError  interface{}
	ExceedsPacketSize bool
}

// ErrorAnalyzer разбирает ошибки транзакций Solana
type ErrorAnalyzer struct {
	logger *zap.Logger
}

// NewErrorAnalyzer создает новый ErrorAnalyzer
func NewErrorAnalyzer(logger *zap.Logger) *ErrorAnalyzer {
	return &ErrorAnalyzer{
		logger: logger.Named("error-analyzer"),
	}
}

// Analyze извлекает детали preflight из err. У не-RPC ошибок есть только сообщение.
func (ea *ErrorAnalyzer) Analyze(err error) *SendFailure {
	if err == nil {
		return nil
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return &SendFailure{Message: err.Error()}
	}

	failure := &SendFailure{
		Code:    rpcErr.Code,
		Message: rpcErr.Message,
		// "base64 encoded solana_sdk::transaction::versioned::VersionedTransaction too large: 1400 bytes (max: encoded/raw 1644/1232)"
		ExceedsPacketSize: strings.Contains(rpcErr.Message, "too large"),
	}

	if !strings.Contains(rpcErr.Message, "Transaction simulation failed") {
		return failure
	}
	failure.SimulationFailed = true

	dataMap, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return failure
	}
	if logs, ok := dataMap["logs"].([]interface{}); ok {
		for _, entry := range logs {
			line, ok := entry.(string)
			if !ok {
				continue
			}
			failure.Logs = append(failure.Logs, line)
			if strings.Contains(line, "AnchorError occurred") || strings.Contains(line, "AnchorError thrown") {
				anchorErr := parseAnchorErrorLog(line)
				failure.Anchor = &anchorErr
				ea.logger.Warn("Anchor error detected",
					zap.Int("code", anchorErr.Code),
					zap.String("name", anchorErr.Name),
					zap.String("message", anchorErr.Msg))
			}
		}
	}
	if instrErr, ok := dataMap["err"]; ok {
		failure.InstructionError = instrErr
	}
	return failure
}

// Fields возвращает поля лога для ошибки.
func (f *SendFailure) Fields() []zap.Field {
	if f == nil {
		return nil
	}
	fields := []zap.Field{
		zap.Int("rpc_code", f.Code),
		zap.String("rpc_message", f.Message),
	}
	if f.SimulationFailed {
		fields = append(fields, zap.Bool("simulation_failed", true), zap.Strings("program_logs", f.Logs))
	}
	if f.InstructionError != nil {
		fields = append(fields, zap.String("instruction_error", fmt.Sprintf("%v", f.InstructionError)))
	}
	if f.Anchor != nil {
		fields = append(fields, zap.String("anchor_error", f.Anchor.Name), zap.Int("anchor_code", f.Anchor.Code))
	}
	return fields
}

// parseAnchorErrorLog разбирает строку лога AnchorError
// Пример: "Program log: AnchorError occurred. Error Code: InstructionFallbackNotFound. Error Number: 101. Error Message: Fallback functions are not supported."
func parseAnchorErrorLog(logStr string) AnchorError {
	result := AnchorError{}

	if _, rest, ok := strings.Cut(logStr, "Error Number:"); ok {
		num, _, _ := strings.Cut(rest, ".")
		fmt.Sscanf(strings.TrimSpace(num), "%d", &result.Code)
	}
	if _, rest, ok := strings.Cut(logStr, "Error Code:"); ok {
		name, _, _ := strings.Cut(rest, ".")
		result.Name = strings.TrimSpace(name)
	}
	if _, rest, ok := strings.Cut(logStr, "Error Message:"); ok {
		msg, _, _ := strings.Cut(rest, ".")
		result.Msg = strings.TrimSpace(msg)
	}
	return result
}
