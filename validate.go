package extract

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/btcrecover/go-extract/types"
)

const (
	signatureOffset = 12
	headerSize      = signatureOffset + 8

	errNotWallet = "file is not a Bitcoin Core wallet"
)

// walletSignature is the little-endian Berkeley DB btree magic followed by
// btree version 9.
var walletSignature = []byte{0x62, 0x31, 0x05, 0x00, 0x09, 0x00, 0x00, 0x00}

// Validate checks the container signature of the file at path. It runs
// before any database handle is opened.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	// nolint
	defer f.Close()

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &types.FormatError{Path: path, Reason: errNotWallet}
		}
		return err
	}

	if !bytes.Equal(hdr[signatureOffset:], walletSignature) {
		return &types.FormatError{Path: path, Reason: errNotWallet}
	}
	return nil
}
