package testutil

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/btcrecover/go-extract/types"
	"github.com/stretchr/testify/require"
)

// MasterKey returns a record with recognizable key and salt bytes.
func MasterKey(method, iterations uint32) types.MasterKeyRecord {
	key := make([]byte, types.EncryptedKeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return types.MasterKeyRecord{
		EncryptedKey:     key,
		Salt:             []byte{0xa0, 0xa1, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7},
		DerivationMethod: method,
		IterationCount:   iterations,
	}
}

// WalletBuilder returns a builder holding rec under its mkey entry plus
// enough unrelated wallet records to spread the main table over several
// leaf pages.
func WalletBuilder(t testing.TB, rec types.MasterKeyRecord) *Builder {
	t.Helper()

	raw, err := rec.Encode()
	require.NoError(t, err)

	b := NewBuilder()
	b.PageSize = 512
	b.Put(types.DefaultTable, types.MasterKeyDBKey(types.DefaultMasterKeyID), raw)
	b.Put(types.DefaultTable, []byte("\x07version"), []byte{0x40, 0x0d, 0x03, 0x00})
	b.Put(types.DefaultTable, []byte("\x0aminversion"), []byte{0x60, 0xea, 0x00, 0x00})
	for i := 0; i < 40; i++ {
		pub := bytes.Repeat([]byte{byte(i)}, 33)
		key := append([]byte("\x04ckey\x21"), pub...)
		b.Put(types.DefaultTable, key, bytes.Repeat([]byte{0xcc}, 49))
		name := fmt.Sprintf("\x04name\x22addr%030d", i)
		b.Put(types.DefaultTable, []byte(name), []byte("\x00"))
	}
	return b
}

// WriteWallet writes b as wallet.dat in a fresh temporary directory.
func WriteWallet(t testing.TB, b *Builder) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wallet.dat")
	require.NoError(t, b.WriteFile(path))
	return path
}
