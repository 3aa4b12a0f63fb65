package types

// KeyedStore fetches a single value by exact key from an on-disk keyed
// container. Handles must be released before Lookup returns. An absent key
// is reported with found == false and a nil error.
type KeyedStore interface {
	Lookup(path, table string, key []byte) (value []byte, found bool, err error)
}
