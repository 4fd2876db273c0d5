package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestDiskStoreLoadMissing(t *testing.T) {
	s := newTestStore(t)

	var v []string
	found, err := s.Load("absent.json", &v)
	require.NoError(t, err)
	assert.False(t, found)

	got, err := LoadOr(s, "absent.json", []string{"default"})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, got)
}

func TestDiskStoreSaveLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("doc.json", map[string]int{"a": 1}))
	got, err := LoadOr(s, "doc.json", map[string]int{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, got)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary file left behind")
	assert.Equal(t, "doc.json", entries[0].Name())
}

func TestDiskStoreRejectsPaths(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../escape.json", filepath.Join("sub", "doc.json"), ".hidden"} {
		err := s.Save(name, 1)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestDiskStoreKeyCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)

	kc := NewKeyCache()
	kc.Record(testKey(3), testKey(1), testKey(2))
	require.NoError(t, s.Save("keys.json", kc))

	loaded, err := LoadKeyCache(s, "keys.json")
	require.NoError(t, err)
	assert.Equal(t, kc.Keys(), loaded.Keys())

	empty, err := LoadKeyCache(s, "other.json")
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestDiskStoreLockSerializesWriters(t *testing.T) {
	s := newTestStore(t)
	const name = "counter.json"

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock(name)
			defer unlock()
			n, err := LoadOr(s, name, 0)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, s.Save(name, n+1))
		}()
	}
	wg.Wait()

	n, err := LoadOr(s, name, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestRegistry(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry(s, Names{Network: "devnet"}.LookupTables())
	a, b, c := testKey(1), testKey(2), testKey(3)

	got, err := r.Addresses()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, r.Add(a, b))
	require.NoError(t, r.Add(b, c))
	got, err = r.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{a, b, c}, got)

	require.NoError(t, r.Remove(b))
	got, err = r.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []solana.PublicKey{a, c}, got)
}

func TestNames(t *testing.T) {
	m1, m2 := testKey(1), testKey(2)
	n := Names{Network: "mainnet"}

	assert.Equal(t, "mainnet-jupKeyCache-"+m1.String()+"-"+m2.String()+".json", n.PairKeys(m1, m2))
	assert.Equal(t, "mainnet-exampleFLMCache-"+m1.String()+".json", n.ExampleKeys(m1))
	assert.Equal(t, "mainnet-lookupTables.json", n.LookupTables())
	assert.Equal(t, "mainnet-lookupTables-keys.json", ExtractedKeys("mainnet-lookupTables.json"))
	assert.Equal(t, "tables-keys.json", ExtractedKeys("tables"))
}
