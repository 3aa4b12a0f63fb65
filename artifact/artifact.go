// Package artifact encodes the part of a Bitcoin Core master key that a
// password tester needs: the last two AES blocks of the encrypted key, the
// salt and the iteration count, tagged and protected by a CRC-32.
//
// Layout, all integers little-endian:
//
//	"bc:" | key[16:48] (32) | salt (8) | iterations (4) | crc32 (4)
package artifact

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/btcrecover/go-extract/types"
)

const (
	Tag = "bc:"

	KeyTailSize = 32
	// PayloadSize is the number of bytes covered by the checksum.
	PayloadSize = len(Tag) + KeyTailSize + types.SaltSize + 4
	Size        = PayloadSize + 4
)

var (
	ErrBadLength = errors.New("artifact: wrong length")
	ErrBadTag    = errors.New("artifact: not a Bitcoin Core artifact")
	ErrChecksum  = errors.New("artifact: checksum mismatch")
)

// Artifact is the shareable subset of a master key record.
type Artifact struct {
	KeyTail        [KeyTailSize]byte
	Salt           [types.SaltSize]byte
	IterationCount uint32
}

// FromRecord keeps only the trailing 32 bytes of the encrypted key.
func FromRecord(rec types.MasterKeyRecord) (*Artifact, error) {
	if len(rec.EncryptedKey) < KeyTailSize {
		return nil, fmt.Errorf(
			"encrypted key is %d bytes, need at least %d", len(rec.EncryptedKey), KeyTailSize,
		)
	}
	if len(rec.Salt) != types.SaltSize {
		return nil, fmt.Errorf("salt is %d bytes, expected %d", len(rec.Salt), types.SaltSize)
	}

	a := &Artifact{IterationCount: rec.IterationCount}
	copy(a.KeyTail[:], rec.EncryptedKey[len(rec.EncryptedKey)-KeyTailSize:])
	copy(a.Salt[:], rec.Salt)
	return a, nil
}

// Bytes returns the tagged payload followed by its CRC-32.
func (a *Artifact) Bytes() []byte {
	buf := make([]byte, 0, Size)
	buf = append(buf, Tag...)
	buf = append(buf, a.KeyTail[:]...)
	buf = append(buf, a.Salt[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, a.IterationCount)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// String returns the standard base64 encoding of Bytes.
func (a *Artifact) String() string {
	return base64.StdEncoding.EncodeToString(a.Bytes())
}

// Parse decodes a base64 artifact and verifies its tag and checksum.
func Parse(s string) (*Artifact, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}
	if len(buf) != Size {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrBadLength, len(buf), Size)
	}
	if !bytes.HasPrefix(buf, []byte(Tag)) {
		return nil, ErrBadTag
	}

	payload := buf[:PayloadSize]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(buf[PayloadSize:]) {
		return nil, ErrChecksum
	}

	a := &Artifact{}
	rest := payload[len(Tag):]
	copy(a.KeyTail[:], rest[:KeyTailSize])
	copy(a.Salt[:], rest[KeyTailSize:KeyTailSize+types.SaltSize])
	a.IterationCount = binary.LittleEndian.Uint32(rest[KeyTailSize+types.SaltSize:])
	return a, nil
}
