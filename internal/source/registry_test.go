package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/transport"
)

func TestRegistryGetIsStable(t *testing.T) {
	f := newFakeCatalog(t)
	st := setupStore(t)
	reg := NewRegistry(transport.New(f.srv.URL, ""), st)

	a := reg.Get("MHG")
	b := reg.Get("MHG")
	require.NotNil(t, a)
	assert.Same(t, a, b)

	other := reg.Get("DM5")
	assert.NotSame(t, a, other)
}

func TestRegistryGetDoesNoIO(t *testing.T) {
	f := newFakeCatalog(t)
	st := setupStore(t)
	reg := NewRegistry(transport.New(f.srv.URL, ""), st)

	drv := reg.Get("MHG")
	assert.False(t, drv.Initialized())

	categories, list, search, details := f.counts()
	assert.Zero(t, categories+list+search+details)
}

func TestRegistryDiscover(t *testing.T) {
	f := newFakeCatalog(t)
	st := setupStore(t)
	reg := NewRegistry(transport.New(f.srv.URL, ""), st)

	reg.Discover([]string{"MHG", "DM5"})
	reg.Discover([]string{"DM5", "EXH"})

	assert.Equal(t, []string{"DM5", "EXH", "MHG"}, reg.Known())
}
