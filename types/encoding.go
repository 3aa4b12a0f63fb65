package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MasterKeyRecordSize is the number of bytes DecodeMasterKey consumes.
const MasterKeyRecordSize = 1 + EncryptedKeySize + 1 + SaltSize + 4 + 4

// Encode serializes the record the way Bitcoin Core stores it, including the
// empty trailing vector of other derivation parameters.
func (m *MasterKeyRecord) Encode() ([]byte, error) {
	var buf bytes.Buffer

	// EncryptedKey (Length + Bytes)
	if err := writeFixedBytes(&buf, m.EncryptedKey, EncryptedKeySize, "encrypted key"); err != nil {
		return nil, err
	}

	// Salt (Length + Bytes)
	if err := writeFixedBytes(&buf, m.Salt, SaltSize, "salt"); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, m.DerivationMethod); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.IterationCount); err != nil {
		return nil, err
	}

	// vchOtherDerivationParameters, always empty
	buf.WriteByte(0)

	return buf.Bytes(), nil
}

// DecodeMasterKey parses a raw master key record. Bytes past the fixed
// layout are ignored. An unexpected derivation method is reported as a
// warning, not an error.
func DecodeMasterKey(b []byte) (*MasterKeyRecord, []Warning, error) {
	if len(b) < MasterKeyRecordSize {
		return nil, nil, &FormatError{Reason: fmt.Sprintf(
			"master key record is %d bytes, need at least %d", len(b), MasterKeyRecordSize,
		)}
	}

	r := bytes.NewReader(b)
	m := &MasterKeyRecord{}

	var err error
	if m.EncryptedKey, err = readFixedBytes(r, EncryptedKeySize, "encrypted key"); err != nil {
		return nil, nil, err
	}
	if m.Salt, err = readFixedBytes(r, SaltSize, "salt"); err != nil {
		return nil, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.DerivationMethod); err != nil {
		return nil, nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.IterationCount); err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	if m.DerivationMethod != CanonicalDerivationMethod {
		warnings = append(warnings, unexpectedMethodWarning(m.DerivationMethod))
	}

	return m, warnings, nil
}

func readFixedBytes(r *bytes.Reader, size int, field string) ([]byte, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(n) != size {
		return nil, &FormatError{Reason: fmt.Sprintf(
			"%s length is %d, expected %d", field, n, size,
		)}
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeFixedBytes(buf *bytes.Buffer, data []byte, size int, field string) error {
	if len(data) != size {
		return fmt.Errorf("%s must be %d bytes, got %d", field, size, len(data))
	}
	buf.WriteByte(byte(size))
	buf.Write(data)
	return nil
}
