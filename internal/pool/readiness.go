// =============================
// File: internal/pool/readiness.go
// =============================
package pool

import "math/big"

// BpsDenominator - 100% в базисных пунктах.
const BpsDenominator = 10_000

// IsReady решает, можно ли покупать в пул с данным состоянием.
// Пул должен быть активен, оба резерва ненулевые, а резерв A не меньше minLiquidity.
func IsReady(r *Record, minLiquidity uint64) bool {
	if r == nil || !r.Active {
		return false
	}
	if r.ReserveA == 0 || r.ReserveB == 0 {
		return false
	}
	return r.ReserveA >= minLiquidity
}

// ExpectedOut оценивает выход в токене B при вводе amountIn токена A
// по формуле постоянного произведения с учётом комиссии пула.
func ExpectedOut(r *Record, amountIn uint64) uint64 {
	if r == nil || r.ReserveA == 0 || r.ReserveB == 0 || amountIn == 0 {
		return 0
	}
	fee := uint64(r.FeeRateBps)
	if fee >= BpsDenominator {
		return 0
	}

	in := new(big.Int).SetUint64(amountIn)
	in.Mul(in, big.NewInt(int64(BpsDenominator-fee)))

	num := new(big.Int).Mul(in, new(big.Int).SetUint64(r.ReserveB))
	den := new(big.Int).Mul(new(big.Int).SetUint64(r.ReserveA), big.NewInt(BpsDenominator))
	den.Add(den, in)

	return num.Quo(num, den).Uint64()
}

// MinAmountOut применяет допустимое проскальзывание к ожидаемому выходу.
func MinAmountOut(expected uint64, slippageBps uint16) uint64 {
	if slippageBps >= BpsDenominator {
		return 0
	}
	v := new(big.Int).SetUint64(expected)
	v.Mul(v, big.NewInt(int64(BpsDenominator-uint64(slippageBps))))
	v.Quo(v, big.NewInt(BpsDenominator))
	return v.Uint64()
}
