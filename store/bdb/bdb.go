// Package bdb reads single records out of Berkeley DB btree files, such as
// the wallet.dat of Bitcoin Core. Files are only ever opened read-only and no
// environment, lock or log files are created next to them.
package bdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotBtree      = errors.New("bdb: not a btree database")
	ErrUnsupported   = errors.New("bdb: unsupported database")
	ErrCorrupt       = errors.New("bdb: corrupt database")
	ErrTableNotFound = errors.New("bdb: table not found")
	ErrClosed        = errors.New("bdb: handle closed")
)

// Env is a read-only environment rooted at the directory holding the
// database files. Files outside that directory cannot be opened through it.
type Env struct {
	home string
	root *os.Root
	dbs  map[*DB]struct{}
}

// OpenEnv opens an environment rooted at home.
func OpenEnv(home string) (*Env, error) {
	root, err := os.OpenRoot(home)
	if err != nil {
		return nil, err
	}
	return &Env{
		home: home,
		root: root,
		dbs:  make(map[*DB]struct{}),
	}, nil
}

// Open opens the named sub-database of file, which is relative to the
// environment home. An empty table opens the file's primary database.
func (e *Env) Open(file, table string) (*DB, error) {
	if e.root == nil {
		return nil, ErrClosed
	}

	f, err := e.root.Open(file)
	if err != nil {
		return nil, err
	}

	db := &DB{env: e, file: file, table: table}
	if err := db.init(f); err != nil {
		// nolint
		f.Close()
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	e.dbs[db] = struct{}{}

	log.WithFields(log.Fields{
		"home":      e.home,
		"file":      file,
		"table":     table,
		"page_size": db.pager.pageSize,
		"root":      db.root,
	}).Debug("bdb: opened database")

	return db, nil
}

// Close releases the environment and every database still open in it.
func (e *Env) Close() error {
	if e.root == nil {
		return ErrClosed
	}

	var errs []error
	for db := range e.dbs {
		errs = append(errs, db.Close())
	}
	errs = append(errs, e.root.Close())
	e.root = nil

	return errors.Join(errs...)
}

// DB is a read-only handle on one btree of a database file.
type DB struct {
	env   *Env
	file  string
	table string
	pager *pager
	root  uint32
}

func (db *DB) init(f *os.File) error {
	hdr := make([]byte, minPageSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file shorter than one page", ErrNotBtree)
		}
		return err
	}

	m, err := parseMeta(hdr)
	if err != nil {
		return err
	}
	if !validPageSize(m.pageSize) {
		return fmt.Errorf("%w: page size %d", ErrCorrupt, m.pageSize)
	}

	db.pager = &pager{f: f, pageSize: m.pageSize, lastPgno: m.lastPgno}

	if db.table == "" {
		db.root = m.root
		return nil
	}

	if m.flags&btmSubdb == 0 {
		return fmt.Errorf("%w: %q (file has no sub-databases)", ErrTableNotFound, db.table)
	}

	// The primary btree of a multi-database file maps sub-database names
	// to the page number of their meta-data page, stored in network byte
	// order whatever the byte order of the file.
	v, found, err := db.search(m.root, []byte(db.table))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrTableNotFound, db.table)
	}
	if len(v) != 4 {
		return fmt.Errorf("%w: sub-database %q has %d byte meta page reference", ErrCorrupt, db.table, len(v))
	}

	sub, err := db.pager.readMeta(binary.BigEndian.Uint32(v))
	if err != nil {
		return err
	}
	db.root = sub.root

	return nil
}

// Get looks up key. A missing key is reported with found == false.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	if db.pager == nil {
		return nil, false, ErrClosed
	}
	return db.search(db.root, key)
}

// Close releases the database file.
func (db *DB) Close() error {
	if db.pager == nil {
		return ErrClosed
	}

	err := db.pager.f.Close()
	db.pager = nil
	delete(db.env.dbs, db)

	return err
}

func (db *DB) search(root uint32, key []byte) ([]byte, bool, error) {
	pgno := root
	for depth := 0; depth < maxTreeDepth; depth++ {
		p, err := db.pager.read(pgno)
		if err != nil {
			return nil, false, err
		}

		switch p.typ {
		case pageIBtree:
			if pgno, err = db.descend(p, key); err != nil {
				return nil, false, err
			}
		case pageLBtree:
			return db.scanLeaf(p, key)
		default:
			return nil, false, fmt.Errorf("%w: page %d has type %d inside btree", ErrCorrupt, pgno, p.typ)
		}
	}

	return nil, false, fmt.Errorf("%w: btree deeper than %d levels", ErrCorrupt, maxTreeDepth)
}

// descend picks the child of an internal page whose key range covers key.
// The first key of an internal page sorts before every other key.
func (db *DB) descend(p *page, key []byte) (uint32, error) {
	if p.entries == 0 {
		return 0, fmt.Errorf("%w: empty internal page %d", ErrCorrupt, p.pgno)
	}

	var child uint32
	for i := 0; i < p.entries; i++ {
		it, err := p.internalItem(i)
		if err != nil {
			return 0, err
		}
		if i > 0 {
			k, err := db.pager.value(it)
			if err != nil {
				return 0, err
			}
			if bytes.Compare(key, k) < 0 {
				break
			}
		}
		child = it.child
	}

	log.WithFields(log.Fields{"page": p.pgno, "child": child}).Debug("bdb: descending")

	return child, nil
}

// scanLeaf walks the key/data pairs of a leaf page, which are kept sorted.
func (db *DB) scanLeaf(p *page, key []byte) ([]byte, bool, error) {
	for i := 0; i+1 < p.entries; i += 2 {
		k, err := p.leafItem(i)
		if err != nil {
			return nil, false, err
		}
		if k.deleted {
			continue
		}

		kb, err := db.pager.value(k)
		if err != nil {
			return nil, false, err
		}

		switch cmp := bytes.Compare(kb, key); {
		case cmp < 0:
			continue
		case cmp > 0:
			return nil, false, nil
		}

		d, err := p.leafItem(i + 1)
		if err != nil {
			return nil, false, err
		}
		if d.deleted {
			return nil, false, nil
		}
		v, err := db.pager.value(d)
		if err != nil {
			return nil, false, err
		}
		return bytes.Clone(v), true, nil
	}

	return nil, false, nil
}

// Lookup opens the database file at path read-only, fetches key from table
// and releases every handle before returning. Symbolic links in path are
// resolved first, so the environment is the directory of the real file.
func Lookup(path, table string, key []byte) (value []byte, found bool, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false, err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, false, err
	}

	env, err := OpenEnv(filepath.Dir(abs))
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && err == nil {
			value, found, err = nil, false, cerr
		}
	}()

	db, err := env.Open(filepath.Base(abs), table)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			value, found, err = nil, false, cerr
		}
	}()

	return db.Get(key)
}

// Reader is a types.KeyedStore backed by Lookup.
type Reader struct{}

func (Reader) Lookup(path, table string, key []byte) ([]byte, bool, error) {
	return Lookup(path, table, key)
}
