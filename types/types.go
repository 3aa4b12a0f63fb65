package types

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultTable is the sub-database Bitcoin Core keeps its wallet records in.
	DefaultTable = "main"
	// DefaultMasterKeyID is the id of the first (and usually only) master key.
	DefaultMasterKeyID = uint32(1)

	EncryptedKeySize = 48
	SaltSize         = 8

	// CanonicalDerivationMethod is EVP_BytesToKey with SHA-512, the only
	// method Bitcoin Core has ever written.
	CanonicalDerivationMethod = uint32(0)
)

// mkeyRecordType is the compact-size prefixed record type of master key entries.
var mkeyRecordType = []byte("\x04mkey")

// MasterKeyDBKey returns the database key of the master key with the given id.
func MasterKeyDBKey(id uint32) []byte {
	key := make([]byte, len(mkeyRecordType)+4)
	copy(key, mkeyRecordType)
	binary.LittleEndian.PutUint32(key[len(mkeyRecordType):], id)
	return key
}

// MasterKeyRecord is a decoded Bitcoin Core CMasterKey.
type MasterKeyRecord struct {
	EncryptedKey     []byte
	Salt             []byte
	DerivationMethod uint32
	IterationCount   uint32
}

// Warning is a non-fatal anomaly found while decoding a record.
type Warning struct {
	Field string
	Value uint32
	Msg   string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %d", w.Msg, w.Value)
}

func unexpectedMethodWarning(method uint32) Warning {
	return Warning{
		Field: "derivation_method",
		Value: method,
		Msg:   "unexpected Bitcoin Core key derivation method",
	}
}
