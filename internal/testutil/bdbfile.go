package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/ccoveille/go-safecast"
)

const (
	btreeMagic   = 0x00053162
	btreeVersion = 9

	pageHeader = 26

	typeIBtree    = 3
	typeLBtree    = 5
	typeOverflow  = 7
	typeBtreeMeta = 9

	itemKeyData  = 1
	itemOverflow = 3

	flagSubdb = 0x20
)

// Builder writes little-endian Berkeley DB btree files holding one or more
// named sub-databases, laid out the way db_load would.
type Builder struct {
	PageSize int
	// LeafPairs caps the key/data pairs per leaf page. Zero fills pages.
	LeafPairs int
	// Fanout caps the children per internal page. Zero fills pages.
	Fanout int
	// OverflowAt moves values longer than this to overflow pages. Zero
	// only does so for values too large to share a page.
	OverflowAt int

	tables map[string][]kv
}

type kv struct {
	key, value []byte
}

func NewBuilder() *Builder {
	return &Builder{
		PageSize: 4096,
		tables:   make(map[string][]kv),
	}
}

// Table makes sure the named sub-database exists, even if it stays empty.
func (b *Builder) Table(name string) *Builder {
	if _, ok := b.tables[name]; !ok {
		b.tables[name] = nil
	}
	return b
}

func (b *Builder) Put(table string, key, value []byte) *Builder {
	b.tables[table] = append(b.tables[table], kv{
		key:   bytes.Clone(key),
		value: bytes.Clone(value),
	})
	return b
}

func (b *Builder) WriteFile(path string) error {
	buf, err := b.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

func (b *Builder) Bytes() ([]byte, error) {
	w := &writer{b: b, pages: [][]byte{nil}}

	names := make([]string, 0, len(b.tables))
	for name := range b.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	master := make([]kv, 0, len(names))
	for _, name := range names {
		metaPgno := w.alloc()
		root, err := w.tree(b.tables[name])
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", name, err)
		}
		w.pages[metaPgno] = w.meta(metaPgno, root, 0, 0)

		// sub-database references are big-endian in every file
		ref := make([]byte, 4)
		binary.BigEndian.PutUint32(ref, metaPgno)
		master = append(master, kv{key: []byte(name), value: ref})
	}

	root, err := w.tree(master)
	if err != nil {
		return nil, err
	}
	last, err := safecast.ToUint32(len(w.pages) - 1)
	if err != nil {
		return nil, err
	}
	w.pages[0] = w.meta(0, root, flagSubdb, last)

	return bytes.Join(w.pages, nil), nil
}

type writer struct {
	b     *Builder
	pages [][]byte
}

// node is a finished page one level down and the smallest key beneath it.
type node struct {
	pgno   uint32
	key    []byte
	ovPgno uint32
}

func (w *writer) alloc() uint32 {
	w.pages = append(w.pages, make([]byte, w.b.PageSize))
	// nolint
	pgno, _ := safecast.ToUint32(len(w.pages) - 1)
	return pgno
}

func (w *writer) meta(pgno, root, flags, last uint32) []byte {
	buf := make([]byte, w.b.PageSize)
	le := binary.LittleEndian
	le.PutUint32(buf[8:], pgno)
	le.PutUint32(buf[12:], btreeMagic)
	le.PutUint32(buf[16:], btreeVersion)
	// nolint
	size, _ := safecast.ToUint32(w.b.PageSize)
	le.PutUint32(buf[20:], size)
	buf[25] = typeBtreeMeta
	le.PutUint32(buf[32:], last)
	le.PutUint32(buf[48:], flags)
	le.PutUint32(buf[76:], 2) // minkey
	le.PutUint32(buf[88:], root)
	return buf
}

func (w *writer) tree(items []kv) (uint32, error) {
	items = append([]kv(nil), items...)
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].key, items[j].key) < 0
	})
	for i := 1; i < len(items); i++ {
		if bytes.Equal(items[i-1].key, items[i].key) {
			return 0, fmt.Errorf("duplicate key %x", items[i].key)
		}
	}

	if len(items) == 0 {
		pgno := w.alloc()
		return pgno, w.slotted(pgno, 0, 0, 1, typeLBtree, nil)
	}

	nodes, err := w.leaves(items)
	if err != nil {
		return 0, err
	}
	for level := uint8(2); len(nodes) > 1; level++ {
		if nodes, err = w.internal(nodes, level); err != nil {
			return 0, err
		}
	}
	return nodes[0].pgno, nil
}

func (w *writer) leaves(items []kv) ([]node, error) {
	type pending struct {
		first   node
		records [][]byte
	}

	var (
		chunks []pending
		cur    pending
		used   int
	)
	for _, it := range items {
		keyRec, keyOv, err := w.leafRecord(it.key, 0)
		if err != nil {
			return nil, err
		}
		valRec, _, err := w.leafRecord(it.value, w.b.OverflowAt)
		if err != nil {
			return nil, err
		}

		need := 4 + align(len(keyRec)) + align(len(valRec))
		full := w.b.LeafPairs > 0 && len(cur.records)/2 >= w.b.LeafPairs
		if len(cur.records) > 0 && (full || pageHeader+used+need > w.b.PageSize) {
			chunks = append(chunks, cur)
			cur, used = pending{}, 0
		}
		if len(cur.records) == 0 {
			cur.first = node{key: it.key, ovPgno: keyOv}
		}
		cur.records = append(cur.records, keyRec, valRec)
		used += need
	}
	chunks = append(chunks, cur)

	nodes := make([]node, len(chunks))
	for i := range chunks {
		nodes[i] = chunks[i].first
		nodes[i].pgno = w.alloc()
	}
	for i, c := range chunks {
		var prev, next uint32
		if i > 0 {
			prev = nodes[i-1].pgno
		}
		if i+1 < len(nodes) {
			next = nodes[i+1].pgno
		}
		if err := w.slotted(nodes[i].pgno, prev, next, 1, typeLBtree, c.records); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func (w *writer) internal(children []node, level uint8) ([]node, error) {
	var (
		parents []node
		records [][]byte
		used    int
	)
	flush := func() error {
		pgno := w.alloc()
		parents[len(parents)-1].pgno = pgno
		err := w.slotted(pgno, 0, 0, level, typeIBtree, records)
		records, used = nil, 0
		return err
	}

	for _, c := range children {
		rec, err := internalRecord(c, len(records) == 0)
		if err != nil {
			return nil, err
		}

		need := 2 + align(len(rec))
		full := w.b.Fanout > 0 && len(records) >= w.b.Fanout
		if len(records) > 0 && (full || pageHeader+used+need > w.b.PageSize) {
			if err := flush(); err != nil {
				return nil, err
			}
			// the first entry of a page never carries a key
			if rec, err = internalRecord(c, true); err != nil {
				return nil, err
			}
			need = 2 + align(len(rec))
		}
		if len(records) == 0 {
			parents = append(parents, node{key: c.key, ovPgno: c.ovPgno})
		}
		records = append(records, rec)
		used += need
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return parents, nil
}

// leafRecord encodes a BKEYDATA item, or a BOVERFLOW reference when data
// is longer than overflowAt or too large to share a page.
func (w *writer) leafRecord(data []byte, overflowAt int) ([]byte, uint32, error) {
	limit := (w.b.PageSize - pageHeader) / 4
	if (overflowAt > 0 && len(data) > overflowAt) || 3+len(data) > limit {
		pgno, err := w.overflow(data)
		if err != nil {
			return nil, 0, err
		}
		rec, err := overflowRef(pgno, len(data))
		return rec, pgno, err
	}

	n, err := safecast.ToUint16(len(data))
	if err != nil {
		return nil, 0, err
	}
	rec := make([]byte, 3+len(data))
	binary.LittleEndian.PutUint16(rec, n)
	rec[2] = itemKeyData
	copy(rec[3:], data)
	return rec, 0, nil
}

func overflowRef(pgno uint32, length int) ([]byte, error) {
	n, err := safecast.ToUint32(length)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 12)
	rec[2] = itemOverflow
	binary.LittleEndian.PutUint32(rec[4:], pgno)
	binary.LittleEndian.PutUint32(rec[8:], n)
	return rec, nil
}

// internalRecord encodes a BINTERNAL item pointing at child.
func internalRecord(child node, first bool) ([]byte, error) {
	typ := byte(itemKeyData)
	data := child.key
	switch {
	case first:
		data = nil
	case child.ovPgno != 0:
		ref, err := overflowRef(child.ovPgno, len(child.key))
		if err != nil {
			return nil, err
		}
		typ, data = itemOverflow, ref
	}

	n, err := safecast.ToUint16(len(data))
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 12+len(data))
	binary.LittleEndian.PutUint16(rec, n)
	rec[2] = typ
	binary.LittleEndian.PutUint32(rec[4:], child.pgno)
	copy(rec[12:], data)
	return rec, nil
}

func (w *writer) overflow(data []byte) (uint32, error) {
	room := w.b.PageSize - pageHeader
	count := (len(data) + room - 1) / room

	pgnos := make([]uint32, count)
	for i := range pgnos {
		pgnos[i] = w.alloc()
	}
	for i, pgno := range pgnos {
		chunk := data[i*room : min((i+1)*room, len(data))]
		n, err := safecast.ToUint16(len(chunk))
		if err != nil {
			return 0, err
		}

		buf := w.pages[pgno]
		le := binary.LittleEndian
		le.PutUint32(buf[8:], pgno)
		if i > 0 {
			le.PutUint32(buf[12:], pgnos[i-1])
		}
		if i+1 < count {
			le.PutUint32(buf[16:], pgnos[i+1])
		}
		le.PutUint16(buf[20:], 1)
		le.PutUint16(buf[22:], n)
		buf[25] = typeOverflow
		copy(buf[pageHeader:], chunk)
	}
	return pgnos[0], nil
}

// slotted fills a btree page: the index array grows up from the header and
// the items grow down from the end of the page.
func (w *writer) slotted(pgno, prev, next uint32, level, typ uint8, records [][]byte) error {
	buf := w.pages[pgno]
	le := binary.LittleEndian
	le.PutUint32(buf[8:], pgno)
	le.PutUint32(buf[12:], prev)
	le.PutUint32(buf[16:], next)

	entries, err := safecast.ToUint16(len(records))
	if err != nil {
		return err
	}
	le.PutUint16(buf[20:], entries)
	buf[24] = level
	buf[25] = typ

	top := len(buf)
	for i, rec := range records {
		top -= align(len(rec))
		if top < pageHeader+2*len(records) {
			return fmt.Errorf("page %d overflows", pgno)
		}
		copy(buf[top:], rec)
		off, err := safecast.ToUint16(top)
		if err != nil {
			return err
		}
		le.PutUint16(buf[pageHeader+2*i:], off)
	}

	hf, err := safecast.ToUint16(top)
	if err != nil {
		return err
	}
	le.PutUint16(buf[22:], hf)
	return nil
}

func align(n int) int {
	return (n + 3) &^ 3
}
