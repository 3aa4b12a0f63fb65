package bdb_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcrecover/go-extract/internal/testutil"
	"github.com/btcrecover/go-extract/store/bdb"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, b *testutil.Builder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, b.WriteFile(path))
	return path
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%05d", i*2))
}

func value(i int) []byte {
	return []byte(fmt.Sprintf("value of record %d", i))
}

func TestLookup(t *testing.T) {
	layouts := []struct {
		name      string
		pageSize  int
		leafPairs int
		fanout    int
	}{
		{name: "single leaf", pageSize: 4096},
		{name: "two levels", pageSize: 4096, leafPairs: 8},
		{name: "deep tree", pageSize: 512, leafPairs: 2, fanout: 3},
	}

	for _, l := range layouts {
		t.Run(l.name, func(t *testing.T) {
			b := testutil.NewBuilder()
			b.PageSize = l.pageSize
			b.LeafPairs = l.leafPairs
			b.Fanout = l.fanout
			for i := 0; i < 100; i++ {
				b.Put("main", key(i), value(i))
			}
			b.Put("other", key(0), []byte("not this one"))
			path := writeFile(t, b)

			for i := 0; i < 100; i++ {
				got, found, err := bdb.Lookup(path, "main", key(i))
				require.NoError(t, err)
				require.True(t, found, "key %s", key(i))
				require.Equal(t, value(i), got)
			}

			absent := [][]byte{
				[]byte("a"),
				[]byte("key-00001"),
				[]byte("key-00099"),
				[]byte("key-00198\x00"),
				[]byte("zzz"),
				{},
			}
			for _, k := range absent {
				got, found, err := bdb.Lookup(path, "main", k)
				require.NoError(t, err)
				require.False(t, found, "key %q", k)
				require.Nil(t, got)
			}

			got, found, err := bdb.Lookup(path, "other", key(0))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte("not this one"), got)
		})
	}
}

// testdata/libdb-512.db was written by libdb 5.3 with 512 byte pages: a
// three level "main" btree with overflow keys and values, and an "other"
// sub-database.
func TestLookupLibdbFile(t *testing.T) {
	path := filepath.Join("testdata", "libdb-512.db")

	for i := 0; i < 300; i++ {
		got, found, err := bdb.Lookup(path, "main", key(i))
		require.NoError(t, err)
		require.True(t, found, "key %s", key(i))
		require.Equal(t, value(i), got)
	}

	absent := [][]byte{
		[]byte("a"),
		[]byte("key-00001"),
		[]byte("key-00099"),
		[]byte("key-00198\x00"),
		[]byte("zzz"),
		{},
	}
	for _, k := range absent {
		_, found, err := bdb.Lookup(path, "main", k)
		require.NoError(t, err)
		require.False(t, found, "key %q", k)
	}

	got, found, err := bdb.Lookup(path, "main", []byte("long"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, bytes.Repeat([]byte("0123456789abcdef"), 200), got)

	for i := 0; i < 6; i++ {
		k := append(bytes.Repeat([]byte{'k'}, 300), byte('0'+i))
		got, found, err := bdb.Lookup(path, "main", k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte{byte(i)}, got)
	}

	got, found, err = bdb.Lookup(path, "other", key(0))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("not this one"), got)

	_, _, err = bdb.Lookup(path, "wallet", key(0))
	require.ErrorIs(t, err, bdb.ErrTableNotFound)
}

func TestLookupFollowsSymlinks(t *testing.T) {
	path := writeFile(t, testutil.NewBuilder().Put("main", []byte("k"), []byte("v")))

	linkDir := t.TempDir()
	link := filepath.Join(linkDir, "wallet.dat")
	if err := os.Symlink(path, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	got, found, err := bdb.Lookup(link, "main", []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), got)

	// a link to a directory higher up the path
	dirLink := filepath.Join(linkDir, "data")
	require.NoError(t, os.Symlink(filepath.Dir(path), dirLink))

	got, found, err = bdb.Lookup(filepath.Join(dirLink, filepath.Base(path)), "main", []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), got)

	entries, err := os.ReadDir(linkDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestSubDatabaseReference(t *testing.T) {
	buf, err := testutil.NewBuilder().Put("main", []byte("k"), []byte("v")).Bytes()
	require.NoError(t, err)

	// page 1 is the meta page of "main". The primary btree on the last page
	// holds it as a 4 byte keydata item with a big-endian page number.
	last := buf[len(buf)-4096:]
	require.True(t, bytes.Contains(last, []byte{0x04, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01}))
	require.False(t, bytes.Contains(last, []byte{0x04, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00}))
}

func TestLookupOverflow(t *testing.T) {
	long := bytes.Repeat([]byte("0123456789abcdef"), 200)

	t.Run("value", func(t *testing.T) {
		b := testutil.NewBuilder()
		b.PageSize = 512
		b.OverflowAt = 64
		b.Put("main", []byte("short"), []byte("inline"))
		b.Put("main", []byte("long"), long)
		path := writeFile(t, b)

		got, found, err := bdb.Lookup(path, "main", []byte("long"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, long, got)

		got, found, err = bdb.Lookup(path, "main", []byte("short"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, []byte("inline"), got)
	})

	t.Run("keys", func(t *testing.T) {
		b := testutil.NewBuilder()
		b.PageSize = 512
		b.LeafPairs = 1
		for i := 0; i < 6; i++ {
			k := append(bytes.Repeat([]byte{'k'}, 300), byte('0'+i))
			b.Put("main", k, []byte{byte(i)})
		}
		path := writeFile(t, b)

		for i := 0; i < 6; i++ {
			k := append(bytes.Repeat([]byte{'k'}, 300), byte('0'+i))
			got, found, err := bdb.Lookup(path, "main", k)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, []byte{byte(i)}, got)
		}

		_, found, err := bdb.Lookup(path, "main", bytes.Repeat([]byte{'k'}, 300))
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestLookupEmptyTable(t *testing.T) {
	path := writeFile(t, testutil.NewBuilder().Table("main"))

	got, found, err := bdb.Lookup(path, "main", []byte("\x04mkey\x01\x00\x00\x00"))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, got)
}

func TestLookupErrors(t *testing.T) {
	valid, err := testutil.NewBuilder().Put("main", []byte("k"), []byte("v")).Bytes()
	require.NoError(t, err)

	patch := func(off int, v uint32) []byte {
		buf := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(buf[off:], v)
		return buf
	}

	tests := []struct {
		name     string
		data     []byte
		table    string
		expected error
	}{
		{
			name:     "missing table",
			data:     valid,
			table:    "wallet",
			expected: bdb.ErrTableNotFound,
		},
		{
			name:     "short file",
			data:     valid[:100],
			table:    "main",
			expected: bdb.ErrNotBtree,
		},
		{
			name:     "hash database",
			data:     patch(12, 0x00061561),
			table:    "main",
			expected: bdb.ErrNotBtree,
		},
		{
			name:     "garbage",
			data:     bytes.Repeat([]byte{0x5a}, 1024),
			table:    "main",
			expected: bdb.ErrNotBtree,
		},
		{
			name:     "big endian",
			data:     patch(12, 0x62310500),
			table:    "main",
			expected: bdb.ErrUnsupported,
		},
		{
			name:     "future version",
			data:     patch(16, 10),
			table:    "main",
			expected: bdb.ErrUnsupported,
		},
		{
			name: "encrypted",
			data: func() []byte {
				buf := bytes.Clone(valid)
				buf[24] = 1
				return buf
			}(),
			table:    "main",
			expected: bdb.ErrUnsupported,
		},
		{
			name: "checksummed",
			data: func() []byte {
				buf := bytes.Clone(valid)
				buf[26] = 1
				return buf
			}(),
			table:    "main",
			expected: bdb.ErrUnsupported,
		},
		{
			name:     "bad page size",
			data:     patch(20, 1000),
			table:    "main",
			expected: bdb.ErrCorrupt,
		},
		{
			name:     "truncated",
			data:     valid[:len(valid)-4096],
			table:    "main",
			expected: bdb.ErrCorrupt,
		},
		{
			name:     "root out of range",
			data:     patch(88, 1000),
			table:    "main",
			expected: bdb.ErrCorrupt,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")
			require.NoError(t, os.WriteFile(path, tt.data, 0o600))

			got, found, err := bdb.Lookup(path, tt.table, []byte("k"))
			require.ErrorIs(t, err, tt.expected)
			require.False(t, found)
			require.Nil(t, got)
		})
	}
}

func TestLookupIsReadOnly(t *testing.T) {
	b := testutil.NewBuilder().Put("main", []byte("k"), []byte("v"))
	path := writeFile(t, b)
	dir := filepath.Dir(path)

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0o400))
	entriesBefore, err := os.ReadDir(dir)
	require.NoError(t, err)

	_, found, err := bdb.Lookup(path, "main", []byte("k"))
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = bdb.Lookup(path, "main", []byte("absent"))
	require.NoError(t, err)
	require.False(t, found)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)

	entriesAfter, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, len(entriesBefore), len(entriesAfter))
}

func TestEnv(t *testing.T) {
	b := testutil.NewBuilder().
		Put("main", []byte("k"), []byte("v")).
		Put("second", []byte("k"), []byte("w"))
	path := writeFile(t, b)

	env, err := bdb.OpenEnv(filepath.Dir(path))
	require.NoError(t, err)

	primary, err := env.Open(filepath.Base(path), "main")
	require.NoError(t, err)
	second, err := env.Open(filepath.Base(path), "second")
	require.NoError(t, err)
	require.Equal(t, 2, env.OpenCount())

	got, found, err := second.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("w"), got)

	require.NoError(t, second.Close())
	require.ErrorIs(t, second.Close(), bdb.ErrClosed)
	require.Equal(t, 1, env.OpenCount())

	// closing the environment releases what is still open
	require.NoError(t, env.Close())
	require.Equal(t, 0, env.OpenCount())
	_, _, err = primary.Get([]byte("k"))
	require.ErrorIs(t, err, bdb.ErrClosed)

	require.ErrorIs(t, env.Close(), bdb.ErrClosed)
	_, err = env.Open(filepath.Base(path), "main")
	require.ErrorIs(t, err, bdb.ErrClosed)
}

func TestEnvStaysInHome(t *testing.T) {
	path := writeFile(t, testutil.NewBuilder().Put("main", []byte("k"), []byte("v")))
	home := t.TempDir()

	env, err := bdb.OpenEnv(home)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, env.Close())
	}()

	rel, err := filepath.Rel(home, path)
	require.NoError(t, err)

	_, err = env.Open(rel, "main")
	require.Error(t, err)
	require.Equal(t, 0, env.OpenCount())
}

func TestReader(t *testing.T) {
	path := writeFile(t, testutil.NewBuilder().Put("main", []byte("k"), []byte("v")))

	got, found, err := bdb.Reader{}.Lookup(path, "main", []byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), got)
}
