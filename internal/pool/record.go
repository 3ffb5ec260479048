// =============================
// File: internal/pool/record.go
// =============================
package pool

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Смещения полей в аккаунте пула. Раскладка фиксированная и должна совпадать побайтно.
const (
	OffsetVersion    = 0
	OffsetPoolType   = 1
	OffsetReserveA   = 8
	OffsetReserveB   = 16
	OffsetFeeRate    = 24
	OffsetActive     = 26
	OffsetLastUpdate = 27

	// RecordSize - минимальный размер буфера: 27 байт заголовка + 8 байт timestamp.
	RecordSize = OffsetLastUpdate + 8
)

// reservedGap - байты 2..7 между типом пула и первым резервом.
const reservedGap = OffsetReserveA - OffsetPoolType - 1

var (
	// ErrTooShort возвращается, когда буфер меньше фиксированной раскладки.
	ErrTooShort = errors.New("pool record too short")
	// ErrRange возвращается, когда поле не удалось прочитать целиком.
	ErrRange = errors.New("pool record field out of range")
)

// DecodeErrorKind classifies decode failures.
type DecodeErrorKind int

const (
	TooShort DecodeErrorKind = iota + 1
	RangeError
)

func (k DecodeErrorKind) String() string {
	switch k {
	case TooShort:
		return "TooShort"
	case RangeError:
		return "RangeError"
	default:
		return "Unknown"
	}
}

// DecodeError описывает, почему байты аккаунта не являются валидным пулом.
type DecodeError struct {
	Kind   DecodeErrorKind
	Field  string
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case TooShort:
		return fmt.Sprintf("%v: got %d bytes, need %d", ErrTooShort, e.Length, RecordSize)
	default:
		return fmt.Sprintf("%v: field %s: %v", ErrRange, e.Field, e.Err)
	}
}

// Unwrap позволяет errors.Is(err, ErrTooShort) / errors.Is(err, ErrRange).
func (e *DecodeError) Unwrap() error {
	if e.Kind == TooShort {
		return ErrTooShort
	}
	return ErrRange
}

// Record - снимок состояния пула.
type Record struct {
	Version    uint8
	PoolType   uint8
	ReserveA   uint64
	ReserveB   uint64
	FeeRateBps uint16
	Active     bool
	LastUpdate uint64
}

// Decode разбирает байты аккаунта в Record. Либо возвращается полная запись, либо ошибка.
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordSize {
		return nil, &DecodeError{Kind: TooShort, Length: len(data)}
	}

	dec := bin.NewBinDecoder(data)
	var (
		r   Record
		err error
	)

	if r.Version, err = dec.ReadUint8(); err != nil {
		return nil, rangeErr("version", err)
	}
	if r.PoolType, err = dec.ReadUint8(); err != nil {
		return nil, rangeErr("pool_type", err)
	}
	if err = dec.SkipBytes(reservedGap); err != nil {
		return nil, rangeErr("reserved", err)
	}
	if r.ReserveA, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, rangeErr("reserve_a", err)
	}
	if r.ReserveB, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, rangeErr("reserve_b", err)
	}
	if r.FeeRateBps, err = dec.ReadUint16(bin.LE); err != nil {
		return nil, rangeErr("fee_rate_bps", err)
	}
	active, err := dec.ReadUint8()
	if err != nil {
		return nil, rangeErr("active", err)
	}
	r.Active = active != 0
	if r.LastUpdate, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, rangeErr("last_update", err)
	}

	return &r, nil
}

func rangeErr(field string, err error) error {
	return &DecodeError{Kind: RangeError, Field: field, Err: err}
}

// Encode сериализует запись в ту же раскладку, которую читает Decode.
func Encode(r *Record) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, RecordSize))
	enc := bin.NewBinEncoder(buf)

	var active uint8
	if r.Active {
		active = 1
	}

	// запись в bytes.Buffer не возвращает ошибок
	_ = enc.WriteUint8(r.Version)
	_ = enc.WriteUint8(r.PoolType)
	_ = enc.WriteBytes(make([]byte, reservedGap), false)
	_ = enc.WriteUint64(r.ReserveA, bin.LE)
	_ = enc.WriteUint64(r.ReserveB, bin.LE)
	_ = enc.WriteUint16(r.FeeRateBps, bin.LE)
	_ = enc.WriteUint8(active)
	_ = enc.WriteUint64(r.LastUpdate, bin.LE)

	return buf.Bytes()
}
