package bdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ccoveille/go-safecast"
)

const (
	btreeMagic        = 0x00053162
	btreeMagicSwapped = 0x62310500
	hashMagic         = 0x00061561
	queueMagic        = 0x00042253

	minBtreeVersion = 8
	maxBtreeVersion = 9

	minPageSize = 512
	maxPageSize = 64 * 1024

	// sizeof(PAGE): lsn, pgno, prev_pgno, next_pgno, entries, hf_offset, level, type
	pageHeaderSize = 26

	// Offsets into the generic and btree meta-data pages.
	metaMagicOff      = 12
	metaVersionOff    = 16
	metaPageSizeOff   = 20
	metaEncryptOff    = 24
	metaTypeOff       = 25
	metaFlagsByteOff  = 26
	metaLastPgnoOff   = 32
	metaFlagsOff      = 48
	metaRootOff       = 88
	metaMinHeaderSize = metaRootOff + 4

	// DBMETA metaflags
	metaChecksum = 0x01

	// btree meta flags
	btmSubdb = 0x020

	pageInvalid   = 0
	pageIBtree    = 3
	pageLBtree    = 5
	pageOverflow  = 7
	pageBtreeMeta = 9

	itemKeyData   = 1
	itemDuplicate = 2
	itemOverflow  = 3
	itemDeleted   = 0x80

	// sizeof(BINTERNAL) without its data, sizeof(BOVERFLOW)
	internalItemHeader = 12
	overflowItemSize   = 12

	maxTreeDepth = 64
)

type meta struct {
	magic     uint32
	version   uint32
	pageSize  uint32
	encrypt   uint8
	typ       uint8
	metaFlags uint8
	lastPgno  uint32
	flags     uint32
	root      uint32
}

func parseMeta(buf []byte) (*meta, error) {
	if len(buf) < metaMinHeaderSize {
		return nil, fmt.Errorf("%w: meta-data page is %d bytes", ErrCorrupt, len(buf))
	}

	m := &meta{
		magic:     binary.LittleEndian.Uint32(buf[metaMagicOff:]),
		version:   binary.LittleEndian.Uint32(buf[metaVersionOff:]),
		pageSize:  binary.LittleEndian.Uint32(buf[metaPageSizeOff:]),
		encrypt:   buf[metaEncryptOff],
		typ:       buf[metaTypeOff],
		metaFlags: buf[metaFlagsByteOff],
		lastPgno:  binary.LittleEndian.Uint32(buf[metaLastPgnoOff:]),
		flags:     binary.LittleEndian.Uint32(buf[metaFlagsOff:]),
		root:      binary.LittleEndian.Uint32(buf[metaRootOff:]),
	}

	switch m.magic {
	case btreeMagic:
	case btreeMagicSwapped:
		return nil, fmt.Errorf("%w: big-endian database", ErrUnsupported)
	case hashMagic, queueMagic:
		return nil, fmt.Errorf("%w: access method magic %#x", ErrNotBtree, m.magic)
	default:
		return nil, fmt.Errorf("%w: bad magic %#x", ErrNotBtree, m.magic)
	}
	if m.version < minBtreeVersion || m.version > maxBtreeVersion {
		return nil, fmt.Errorf("%w: btree version %d", ErrUnsupported, m.version)
	}
	if m.typ != pageBtreeMeta {
		return nil, fmt.Errorf("%w: meta-data page has type %d", ErrCorrupt, m.typ)
	}
	if m.encrypt != 0 {
		return nil, fmt.Errorf("%w: encrypted database", ErrUnsupported)
	}
	if m.metaFlags&metaChecksum != 0 {
		return nil, fmt.Errorf("%w: checksummed pages", ErrUnsupported)
	}

	return m, nil
}

func validPageSize(size uint32) bool {
	return size >= minPageSize && size <= maxPageSize && size&(size-1) == 0
}

type page struct {
	pgno     uint32
	next     uint32
	entries  int
	hfOffset int
	typ      uint8
	buf      []byte
}

// item is a key or data element of a btree page. Keys on internal pages
// also carry the page number of the child they lead to.
type item struct {
	typ     uint8
	deleted bool
	data    []byte
	ovPgno  uint32
	ovLen   uint32
	child   uint32
}

func (p *page) offset(i int) (int, error) {
	if i < 0 || i >= p.entries {
		return 0, fmt.Errorf("%w: page %d has no item %d", ErrCorrupt, p.pgno, i)
	}
	at := pageHeaderSize + 2*i
	if at+2 > len(p.buf) {
		return 0, fmt.Errorf("%w: page %d index overruns page", ErrCorrupt, p.pgno)
	}
	off := int(binary.LittleEndian.Uint16(p.buf[at:]))
	if off < pageHeaderSize || off+3 > len(p.buf) {
		return 0, fmt.Errorf("%w: page %d item %d at bad offset %d", ErrCorrupt, p.pgno, i, off)
	}
	return off, nil
}

func (p *page) leafItem(i int) (item, error) {
	off, err := p.offset(i)
	if err != nil {
		return item{}, err
	}

	raw := p.buf[off+2]
	it := item{typ: raw &^ itemDeleted, deleted: raw&itemDeleted != 0}

	switch it.typ {
	case itemKeyData:
		n := int(binary.LittleEndian.Uint16(p.buf[off:]))
		end := off + 3 + n
		if end > len(p.buf) {
			return item{}, fmt.Errorf("%w: page %d item %d overruns page", ErrCorrupt, p.pgno, i)
		}
		it.data = p.buf[off+3 : end]
	case itemOverflow, itemDuplicate:
		if off+overflowItemSize > len(p.buf) {
			return item{}, fmt.Errorf("%w: page %d item %d overruns page", ErrCorrupt, p.pgno, i)
		}
		it.ovPgno = binary.LittleEndian.Uint32(p.buf[off+4:])
		it.ovLen = binary.LittleEndian.Uint32(p.buf[off+8:])
	default:
		return item{}, fmt.Errorf("%w: page %d item %d has type %d", ErrCorrupt, p.pgno, i, it.typ)
	}

	return it, nil
}

func (p *page) internalItem(i int) (item, error) {
	off, err := p.offset(i)
	if err != nil {
		return item{}, err
	}
	if off+internalItemHeader > len(p.buf) {
		return item{}, fmt.Errorf("%w: page %d item %d overruns page", ErrCorrupt, p.pgno, i)
	}

	n := int(binary.LittleEndian.Uint16(p.buf[off:]))
	raw := p.buf[off+2]
	it := item{
		typ:     raw &^ itemDeleted,
		deleted: raw&itemDeleted != 0,
		child:   binary.LittleEndian.Uint32(p.buf[off+4:]),
	}

	end := off + internalItemHeader + n
	if end > len(p.buf) {
		return item{}, fmt.Errorf("%w: page %d item %d overruns page", ErrCorrupt, p.pgno, i)
	}
	data := p.buf[off+internalItemHeader : end]

	switch it.typ {
	case itemKeyData:
		it.data = data
	case itemOverflow:
		if len(data) < overflowItemSize {
			return item{}, fmt.Errorf("%w: page %d item %d short overflow reference", ErrCorrupt, p.pgno, i)
		}
		it.ovPgno = binary.LittleEndian.Uint32(data[4:])
		it.ovLen = binary.LittleEndian.Uint32(data[8:])
	default:
		return item{}, fmt.Errorf("%w: page %d item %d has type %d", ErrCorrupt, p.pgno, i, it.typ)
	}

	return it, nil
}

// pager reads whole pages of one database file.
type pager struct {
	f        *os.File
	pageSize uint32
	lastPgno uint32
}

func (pg *pager) read(pgno uint32) (*page, error) {
	if pgno == pageInvalid || pgno > pg.lastPgno {
		return nil, fmt.Errorf("%w: page %d out of range (last %d)", ErrCorrupt, pgno, pg.lastPgno)
	}

	size, err := safecast.ToInt(pg.pageSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := pg.f.ReadAt(buf, int64(pgno)*int64(pg.pageSize)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file truncated at page %d", ErrCorrupt, pgno)
		}
		return nil, err
	}

	p := &page{
		pgno:     binary.LittleEndian.Uint32(buf[8:]),
		next:     binary.LittleEndian.Uint32(buf[16:]),
		entries:  int(binary.LittleEndian.Uint16(buf[20:])),
		hfOffset: int(binary.LittleEndian.Uint16(buf[22:])),
		typ:      buf[25],
		buf:      buf,
	}
	if p.pgno != pgno {
		return nil, fmt.Errorf("%w: page %d claims to be page %d", ErrCorrupt, pgno, p.pgno)
	}
	return p, nil
}

func (pg *pager) readMeta(pgno uint32) (*meta, error) {
	p, err := pg.read(pgno)
	if err != nil {
		return nil, err
	}
	return parseMeta(p.buf)
}

// value returns the bytes an item refers to, following overflow chains.
func (pg *pager) value(it item) ([]byte, error) {
	switch it.typ {
	case itemKeyData:
		return it.data, nil
	case itemOverflow:
		return pg.readOverflow(it.ovPgno, it.ovLen)
	default:
		return nil, fmt.Errorf("%w: off-page duplicates", ErrUnsupported)
	}
}

func (pg *pager) readOverflow(pgno, length uint32) ([]byte, error) {
	if uint64(length) > (uint64(pg.lastPgno)+1)*uint64(pg.pageSize) {
		return nil, fmt.Errorf("%w: overflow item of %d bytes exceeds file", ErrCorrupt, length)
	}
	total, err := safecast.ToInt(length)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, total)
	for pages := uint32(0); len(out) < total; pages++ {
		if pages > pg.lastPgno {
			return nil, fmt.Errorf("%w: overflow chain loops", ErrCorrupt)
		}
		p, err := pg.read(pgno)
		if err != nil {
			return nil, err
		}
		if p.typ != pageOverflow {
			return nil, fmt.Errorf("%w: page %d in overflow chain has type %d", ErrCorrupt, pgno, p.typ)
		}
		end := pageHeaderSize + p.hfOffset
		if end > len(p.buf) {
			return nil, fmt.Errorf("%w: overflow page %d overruns page", ErrCorrupt, pgno)
		}
		out = append(out, p.buf[pageHeaderSize:end]...)
		pgno = p.next
	}

	if len(out) != total {
		return nil, fmt.Errorf("%w: overflow item is %d bytes, expected %d", ErrCorrupt, len(out), total)
	}
	return out, nil
}
