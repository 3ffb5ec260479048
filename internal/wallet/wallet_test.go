package wallet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWallet(t *testing.T) {
	account := solana.NewWallet()

	w, err := NewWallet(account.PrivateKey.String())
	require.NoError(t, err)
	assert.True(t, w.PublicKey.Equals(account.PublicKey()))
}

func TestNewWallet_InvalidFormat(t *testing.T) {
	account := solana.NewWallet()
	mismatched := make([]byte, 64)
	copy(mismatched, account.PrivateKey[:32])
	foreign := append(bytes.Repeat([]byte{7}, 32), bytes.Repeat([]byte{0xff}, 32)...)
	swapped := make([]byte, 64)
	copy(swapped, account.PrivateKey[:32])
	copy(swapped[32:], solana.NewWallet().PublicKey().Bytes())

	cases := map[string]string{
		"not base58":      "0OIl-not-base58",
		"too short":       base58.Encode([]byte{1, 2, 3}),
		"empty":           "",
		"mismatched half": base58.Encode(mismatched),
		"foreign half":    base58.Encode(foreign),
		"other wallet":    base58.Encode(swapped),
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			w, err := NewWallet(input)
			assert.Nil(t, w)
			assert.True(t, errors.Is(err, ErrInvalidKeyFormat), "got %v", err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	account := solana.NewWallet()
	dir := t.TempDir()

	ints := make([]int, len(account.PrivateKey))
	for i, b := range account.PrivateKey {
		ints[i] = int(b)
	}
	jsonKey, err := json.Marshal(ints)
	require.NoError(t, err)

	jsonPath := filepath.Join(dir, "id.json")
	require.NoError(t, os.WriteFile(jsonPath, jsonKey, 0o600))

	textPath := filepath.Join(dir, "key.txt")
	require.NoError(t, os.WriteFile(textPath, []byte(account.PrivateKey.String()+"\n"), 0o600))

	for _, path := range []string{jsonPath, textPath} {
		w, err := LoadFromFile(path)
		require.NoError(t, err, path)
		assert.True(t, w.PublicKey.Equals(account.PublicKey()), path)
	}

	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("[1, 2, 999]"), 0o600))
	_, err = LoadFromFile(badPath)
	assert.True(t, errors.Is(err, ErrInvalidKeyFormat))

	_, err = LoadFromFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidKeyFormat))
}

func TestWallet_NeverPrintsPrivateKey(t *testing.T) {
	account := solana.NewWallet()
	w, err := NewWallet(account.PrivateKey.String())
	require.NoError(t, err)

	secret := account.PrivateKey.String()
	for _, s := range []string{w.String(), fmt.Sprintf("%v", w), fmt.Sprintf("%#v", w), fmt.Sprintf("%s", w)} {
		assert.NotContains(t, s, secret)
	}
	assert.Equal(t, account.PublicKey().String(), w.String())
}

func TestWallet_SignTransaction(t *testing.T) {
	account := solana.NewWallet()
	w, err := NewWallet(account.PrivateKey.String())
	require.NoError(t, err)

	ix, err := w.CreateATAIdempotentInstruction(solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	require.NoError(t, err)

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(w.PublicKey))
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(tx))
	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
}

func TestWallet_GetATACached(t *testing.T) {
	w, err := NewWallet(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	mint := solana.NewWallet().PublicKey()
	require.NoError(t, w.PrecomputeATAs(mint))

	first, err := w.GetATA(mint)
	require.NoError(t, err)
	expected, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	require.NoError(t, err)
	assert.Equal(t, expected, first)
}
