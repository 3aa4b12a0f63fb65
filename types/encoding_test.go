package types_test

import (
	"bytes"
	"testing"

	"github.com/btcrecover/go-extract/types"
	"github.com/stretchr/testify/require"
)

func sampleRecord(method, iterations uint32) types.MasterKeyRecord {
	key := make([]byte, types.EncryptedKeySize)
	for i := range key {
		key[i] = byte(0xff - i)
	}
	return types.MasterKeyRecord{
		EncryptedKey:     key,
		Salt:             []byte("saltsalt"),
		DerivationMethod: method,
		IterationCount:   iterations,
	}
}

func TestMasterKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		method     uint32
		iterations uint32
	}{
		{name: "default method", method: 0, iterations: 1000},
		{name: "high iteration count", method: 0, iterations: 0xfedcba98},
		{name: "unknown method", method: 7, iterations: 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord(tt.method, tt.iterations)

			raw, err := rec.Encode()
			require.NoError(t, err)
			// 49p 9p I I plus the empty other-parameters vector
			require.Len(t, raw, types.MasterKeyRecordSize+1)
			require.Equal(t, byte(48), raw[0])
			require.Equal(t, byte(8), raw[49])

			got, _, err := types.DecodeMasterKey(raw)
			require.NoError(t, err)
			require.Equal(t, rec, *got)
		})
	}
}

func TestDecodeMasterKeyLayout(t *testing.T) {
	raw := []byte{48}
	raw = append(raw, bytes.Repeat([]byte{0x11}, 16)...)
	raw = append(raw, bytes.Repeat([]byte{0x22}, 32)...)
	raw = append(raw, 8)
	raw = append(raw, []byte("SALTSALT")...)
	raw = append(raw, 0, 0, 0, 0)
	raw = append(raw, 0xe8, 0x03, 0x00, 0x00)
	raw = append(raw, 0x00, 0xde, 0xad)

	got, warnings, err := types.DecodeMasterKey(raw)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, bytes.Repeat([]byte{0x11}, 16), got.EncryptedKey[:16])
	require.Equal(t, bytes.Repeat([]byte{0x22}, 32), got.EncryptedKey[16:])
	require.Equal(t, []byte("SALTSALT"), got.Salt)
	require.Equal(t, uint32(0), got.DerivationMethod)
	require.Equal(t, uint32(1000), got.IterationCount)
}

func TestDecodeMasterKeyWarning(t *testing.T) {
	rec := sampleRecord(1, 1000)
	raw, err := rec.Encode()
	require.NoError(t, err)

	got, warnings, err := types.DecodeMasterKey(raw)
	require.NoError(t, err)
	require.Equal(t, rec, *got)
	require.Len(t, warnings, 1)
	require.Equal(t, "derivation_method", warnings[0].Field)
	require.Equal(t, uint32(1), warnings[0].Value)
	require.Equal(t, "unexpected Bitcoin Core key derivation method 1", warnings[0].String())
}

func TestDecodeMasterKeyInvalid(t *testing.T) {
	rec := sampleRecord(0, 1000)
	raw, err := rec.Encode()
	require.NoError(t, err)

	withByte := func(i int, v byte) []byte {
		b := bytes.Clone(raw)
		b[i] = v
		return b
	}

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "one byte short", raw: raw[:types.MasterKeyRecordSize-1]},
		{name: "key only", raw: raw[:49]},
		{name: "short key length", raw: withByte(0, 32)},
		{name: "long key length", raw: withByte(0, 64)},
		{name: "short salt length", raw: withByte(49, 4)},
		{name: "long salt length", raw: withByte(49, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings, err := types.DecodeMasterKey(tt.raw)
			require.Error(t, err)
			var formatErr *types.FormatError
			require.ErrorAs(t, err, &formatErr)
			require.Nil(t, got)
			require.Nil(t, warnings)
		})
	}
}

func TestEncodeRejectsOddSizes(t *testing.T) {
	rec := sampleRecord(0, 1)
	rec.Salt = []byte("short")
	_, err := rec.Encode()
	require.Error(t, err)

	rec = sampleRecord(0, 1)
	rec.EncryptedKey = append(rec.EncryptedKey, 0)
	_, err = rec.Encode()
	require.Error(t, err)
}

func TestMasterKeyDBKey(t *testing.T) {
	require.Equal(t, []byte("\x04mkey\x01\x00\x00\x00"), types.MasterKeyDBKey(1))
	require.Equal(t, []byte("\x04mkey\x02\x01\x00\x00"), types.MasterKeyDBKey(258))
}

func TestErrors(t *testing.T) {
	err := &types.FormatError{Path: "/tmp/wallet.dat", Reason: "file is not a Bitcoin Core wallet"}
	require.Equal(t, "/tmp/wallet.dat: file is not a Bitcoin Core wallet", err.Error())

	notFound := &types.NotFoundError{Path: "/tmp/wallet.dat", Table: "main", ID: 1}
	require.Contains(t, notFound.Error(), "encrypted master key #1 not found")
	require.Contains(t, notFound.Error(), "is this wallet encrypted?")
}
