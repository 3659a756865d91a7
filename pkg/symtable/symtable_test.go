package symtable_test

import (
	"debug/elf"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/crashenv/pkg/stack"
	"github.com/maxgio92/crashenv/pkg/symtable"
)

func funcSym(name string, value, size uint64) elf.Symbol {
	return elf.Symbol{
		Name:  name,
		Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		Value: value,
		Size:  size,
	}
}

func testTab() *symtable.ELFSymTab {
	tab := symtable.NewELFSymTab()
	tab.SetSymbols([]elf.Symbol{
		funcSym("main.handler", 0x1200, 0x80),
		funcSym("main.main", 0x1000, 0x100),
		{Name: "main.table", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT), Value: 0x1100, Size: 0x40},
		funcSym("main.crash", 0x1100, 0x20),
	})
	return tab
}

func TestELFSymTab_GetName(t *testing.T) {
	tab := testTab()

	tests := []struct {
		ip   uint64
		name string
		err  error
	}{
		{ip: 0x1000, name: "main.main"},
		{ip: 0x10ff, name: "main.main"},
		{ip: 0x1110, name: "main.crash"},
		{ip: 0x1250, name: "main.handler"},
		{ip: 0x1130, err: symtable.ErrSymNotFound},
		{ip: 0x0fff, err: symtable.ErrSymNotFound},
		{ip: 0x1280, err: symtable.ErrSymNotFound},
	}
	for _, tt := range tests {
		// Twice, the second lookup is served by the cache.
		for n := 0; n < 2; n++ {
			name, err := tab.GetName(tt.ip)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err, "ip %#x", tt.ip)
				continue
			}
			require.NoError(t, err)
			require.Equal(t, tt.name, name, "ip %#x", tt.ip)
		}
	}
}

func TestELFSymTab_Empty(t *testing.T) {
	_, err := symtable.NewELFSymTab().GetName(0x1000)
	require.ErrorIs(t, err, symtable.ErrSymTableEmpty)
}

func TestELFSymTab_LoadSelf(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	f, err := elf.Open(exe)
	require.NoError(t, err)
	syms, err := f.Symbols()
	require.NoError(t, err)
	f.Close()

	var want elf.Symbol
	for _, s := range syms {
		if s.Name == "runtime.main" {
			want = s
			break
		}
	}
	require.NotZero(t, want.Value)

	tab := symtable.NewELFSymTab()
	require.NoError(t, tab.Load(exe))

	got, err := tab.GetSymbol(want.Value)
	require.NoError(t, err)
	require.Equal(t, want.Value, got.Value)
}

const testMaps = `55d0c0a00000-55d0c0a01000 r--p 00000000 08:01 1234                       /usr/bin/app
55d0c0a01000-55d0c0a02000 r-xp 00001000 08:01 1234                       /usr/bin/app
55d0c0c00000-55d0c0c21000 rw-p 00000000 00:00 0                          [heap]
7f2a10000000-7f2a10001000 r-xp 00000000 08:01 99                         /opt/my lib/libx.so
7ffd6a1f0000-7ffd6a1f2000 r-xp 00000000 00:00 0                          [vdso]
`

func TestParseMaps(t *testing.T) {
	mappings, err := symtable.ParseMaps(strings.NewReader(testMaps))
	require.NoError(t, err)
	require.Len(t, mappings, 5)

	require.Equal(t, symtable.Mapping{
		Start:    0x55d0c0a01000,
		End:      0x55d0c0a02000,
		Perms:    "r-xp",
		Offset:   0x1000,
		Pathname: "/usr/bin/app",
	}, mappings[1])
	require.True(t, mappings[1].Executable())
	require.False(t, mappings[0].Executable())
	require.True(t, mappings[1].Contains(0x55d0c0a01000))
	require.False(t, mappings[1].Contains(0x55d0c0a02000))

	require.Equal(t, "/opt/my lib/libx.so", mappings[3].Pathname)
	require.False(t, mappings[2].FileBacked())
	require.False(t, mappings[4].FileBacked())

	_, err = symtable.ParseMaps(strings.NewReader("garbage\n"))
	require.ErrorIs(t, err, symtable.ErrMalformedMapping)
}

func TestProcessSymbolicator(t *testing.T) {
	mapsPath := filepath.Join(t.TempDir(), "maps")
	require.NoError(t, os.WriteFile(mapsPath, []byte(testMaps), 0o644))

	tab := testTab()
	tab.Type = elf.ET_DYN

	s := symtable.NewProcessSymbolicator(
		symtable.WithMapsFile(mapsPath),
		symtable.WithSymTab("/usr/bin/app", tab),
		// Images not registered above are never found on disk.
		symtable.WithImageRoot(t.TempDir()),
	)
	require.NoError(t, s.Init())
	require.Len(t, s.Mappings(), 3)

	var frame stack.Frame
	require.True(t, s.Symbolicate(0x55d0c0a01110, &frame))
	require.Equal(t, stack.Frame{
		ImageName:     "/usr/bin/app",
		ImageAddress:  0x55d0c0a00000,
		SymbolName:    "main.crash",
		SymbolAddress: 0x55d0c0a01100,
	}, frame)

	// Image found, symbols unavailable.
	frame = stack.Frame{}
	require.True(t, s.Symbolicate(0x7f2a10000010, &frame))
	require.Equal(t, "/opt/my lib/libx.so", frame.ImageName)
	require.Empty(t, frame.SymbolName)

	// Not executable, or not file backed.
	require.False(t, s.Symbolicate(0x55d0c0a00010, &stack.Frame{}))
	require.False(t, s.Symbolicate(0x7ffd6a1f0010, &stack.Frame{}))
}

func TestProcessSymbolicator_MissingMaps(t *testing.T) {
	s := symtable.NewProcessSymbolicator(symtable.WithMapsFile(filepath.Join(t.TempDir(), "maps")))
	require.Error(t, s.Init())
	require.False(t, s.Symbolicate(0x1000, &stack.Frame{}))
}
