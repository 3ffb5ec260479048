// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// ErrInvalidKeyFormat возвращается для любого секрета, из которого нельзя получить ключ ed25519.
var ErrInvalidKeyFormat = errors.New("invalid key format")

const privateKeyLen = 64

// Wallet представляет кошелёк Solana. Приватный ключ живёт только в памяти процесса.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey
	ataCache   map[string]solana.PublicKey
}

// NewWallet создаёт кошелёк из base58-encoded приватного ключа.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("%w: base58 decode failed", ErrInvalidKeyFormat)
	}
	return fromBytes(privateKeyBytes)
}

// LoadFromFile читает ключ из файла: либо base58-строка, либо JSON-массив байт (формат solana-keygen).
func LoadFromFile(path string) (*Wallet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(content), &ints); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON keypair", ErrInvalidKeyFormat)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeyFormat, i)
			}
			raw[i] = byte(v)
		}
		return fromBytes(raw)
	}

	return NewWallet(content)
}

func fromBytes(b []byte) (*Wallet, error) {
	if len(b) != privateKeyLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyFormat, privateKeyLen, len(b))
	}
	// публичная половина должна выводиться из seed, иначе подписи не пройдут проверку
	derived := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], b[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key half does not match secret", ErrInvalidKeyFormat)
	}

	return &Wallet{
		PrivateKey: solana.PrivateKey(derived),
		PublicKey:  solana.PublicKeyFromBytes(derived[ed25519.SeedSize:]),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// SignTransaction подписывает транзакцию ключом кошелька.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// GetATA возвращает адрес ассоциированного токен-аккаунта для mint (с кешем).
func (w *Wallet) GetATA(mint solana.PublicKey) (solana.PublicKey, error) {
	mintStr := mint.String()
	if ata, ok := w.ataCache[mintStr]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mintStr] = ata
	return ata, nil
}

// PrecomputeATAs заранее считает ATA, чтобы после старта кеш только читался.
func (w *Wallet) PrecomputeATAs(mints ...solana.PublicKey) error {
	for _, mint := range mints {
		if _, err := w.GetATA(mint); err != nil {
			return fmt.Errorf("failed to precompute ATA for mint %s: %w", mint.String(), err)
		}
	}
	return nil
}

// CreateATAIdempotentInstruction создаёт ATA кошелька для mint, если его ещё нет.
func (w *Wallet) CreateATAIdempotentInstruction(mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := w.GetATA(mint)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: w.PublicKey, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: w.PublicKey, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // create idempotent
	), nil
}

// String возвращает публичный ключ. Приватный ключ наружу не отдаётся.
func (w *Wallet) String() string {
	return w.PublicKey.String()
}

// GoString не даёт %#v распечатать приватный ключ.
func (w *Wallet) GoString() string {
	return fmt.Sprintf("wallet.Wallet{PublicKey: %s}", w.PublicKey)
}
