// Package extract pulls the encrypted master key out of a Bitcoin Core
// wallet.dat and turns it into a short base64 artifact that can be handed to
// a password tester without exposing the rest of the wallet.
package extract

import (
	"errors"
	"fmt"

	"github.com/btcrecover/go-extract/artifact"
	"github.com/btcrecover/go-extract/types"
	log "github.com/sirupsen/logrus"
)

// Result holds what a successful extraction produced.
type Result struct {
	Record   *types.MasterKeyRecord
	Warnings []types.Warning
	Artifact *artifact.Artifact
}

// Extract validates the wallet at path, reads its master key record and
// encodes the artifact. The wallet file is never modified.
func Extract(path string, opts ...Option) (*Result, error) {
	o := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if err := Validate(path); err != nil {
		return nil, err
	}

	raw, found, err := o.store.Lookup(path, o.table, types.MasterKeyDBKey(o.masterKeyID))
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet: %w", err)
	}
	if !found || len(raw) == 0 {
		return nil, &types.NotFoundError{Path: path, Table: o.table, ID: o.masterKeyID}
	}

	log.WithFields(log.Fields{
		"table": o.table,
		"id":    o.masterKeyID,
		"size":  len(raw),
	}).Debug("extract: read master key record")

	rec, warnings, err := types.DecodeMasterKey(raw)
	if err != nil {
		var formatErr *types.FormatError
		if errors.As(err, &formatErr) && formatErr.Path == "" {
			formatErr.Path = path
		}
		return nil, err
	}

	a, err := artifact.FromRecord(*rec)
	if err != nil {
		return nil, err
	}

	return &Result{
		Record:   rec,
		Warnings: warnings,
		Artifact: a,
	}, nil
}
