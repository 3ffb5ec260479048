// internal/swap/priority.go
package swap

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

type PriorityLevel string

const (
	PriorityNone    PriorityLevel = "none"
	PriorityLow     PriorityLevel = "low"
	PriorityMedium  PriorityLevel = "medium"
	PriorityHigh    PriorityLevel = "high"
	PriorityExtreme PriorityLevel = "extreme"
)

// PriorityConfig - параметры compute budget для транзакции покупки.
type PriorityConfig struct {
	ComputeUnits uint32 // лимит CU, 0 - не задавать
	PriorityFee  uint64 // micro-lamports за CU, 0 - не задавать
}

var priorityProfiles = map[PriorityLevel]PriorityConfig{
	PriorityNone:    {},
	PriorityLow:     {ComputeUnits: 200_000, PriorityFee: 1_000},
	PriorityMedium:  {ComputeUnits: 400_000, PriorityFee: 5_000},
	PriorityHigh:    {ComputeUnits: 800_000, PriorityFee: 10_000},
	PriorityExtreme: {ComputeUnits: 1_000_000, PriorityFee: 50_000},
}

// ResolvePriority берёт профиль level и перекрывает его явными значениями, если они не нулевые.
func ResolvePriority(level string, computeUnits uint32, priorityFee uint64) (PriorityConfig, error) {
	if level == "" {
		level = string(PriorityNone)
	}
	cfg, ok := priorityProfiles[PriorityLevel(strings.ToLower(level))]
	if !ok {
		return PriorityConfig{}, fmt.Errorf("unknown priority level: %s", level)
	}
	if computeUnits > 0 {
		cfg.ComputeUnits = computeUnits
	}
	if priorityFee > 0 {
		cfg.PriorityFee = priorityFee
	}
	return cfg, nil
}

// Instructions возвращает инструкции compute budget, которые ставятся первыми в транзакции.
func (p PriorityConfig) Instructions() []solana.Instruction {
	var instructions []solana.Instruction

	if p.ComputeUnits > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitLimitInstruction(p.ComputeUnits).Build())
	}
	if p.PriorityFee > 0 {
		instructions = append(instructions, computebudget.NewSetComputeUnitPriceInstruction(p.PriorityFee).Build())
	}
	return instructions
}
