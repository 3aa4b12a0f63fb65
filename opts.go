package extract

import (
	"fmt"

	"github.com/btcrecover/go-extract/store/bdb"
	"github.com/btcrecover/go-extract/types"
)

type Option func(o *options) error

type options struct {
	store       types.KeyedStore
	table       string
	masterKeyID uint32
}

func newDefaultOptions() *options {
	return &options{
		store:       bdb.Reader{},
		table:       types.DefaultTable,
		masterKeyID: types.DefaultMasterKeyID,
	}
}

// WithKeyedStore replaces the Berkeley DB reader used for the lookup.
func WithKeyedStore(store types.KeyedStore) Option {
	return func(o *options) error {
		if store == nil {
			return fmt.Errorf("%w: nil keyed store", ErrInvalidOption)
		}
		o.store = store
		return nil
	}
}

// WithTable sets the sub-database holding the master key, "main" by default.
func WithTable(table string) Option {
	return func(o *options) error {
		if table == "" {
			return fmt.Errorf("%w: empty table name", ErrInvalidOption)
		}
		o.table = table
		return nil
	}
}

// WithMasterKeyID selects which master key to extract. Wallets only ever
// hold master key 1 unless they were encrypted more than once by a
// non-standard client.
func WithMasterKeyID(id uint32) Option {
	return func(o *options) error {
		o.masterKeyID = id
		return nil
	}
}
