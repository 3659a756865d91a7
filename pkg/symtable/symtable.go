package symtable

import (
	"debug/elf"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

var (
	ErrSymNotFound   = errors.New("symbol not found")
	ErrSymTableEmpty = errors.New("symtable is empty")
)

const defaultCacheSize = 1024

// ELFSymTab is one of the possible abstractions around executable
// file symbol tables, for ELF files.
type ELFSymTab struct {
	// Symtab holds the function symbols sorted by address.
	Symtab []elf.Symbol
	// Type is the ELF file type, ET_DYN images are relocated at load time.
	Type  elf.Type
	cache *lru.Cache[uint64, elf.Symbol]
}

func NewELFSymTab() *ELFSymTab {
	tab := new(ELFSymTab)
	tab.Symtab = make([]elf.Symbol, 0)
	tab.Type = elf.ET_EXEC
	// The size is a constant, New only fails on non positive sizes.
	tab.cache, _ = lru.New[uint64, elf.Symbol](defaultCacheSize)

	return tab
}

// Load loads from the underlying filesystem the ELF file
// with debug/elf.Open and stores it in the ELFSymTab struct.
// Both .symtab and .dynsym are read, so stripped shared objects still
// resolve their exported functions.
func (e *ELFSymTab) Load(pathname string) error {
	// Skip load if file elf.File has already been loaded.
	if len(e.Symtab) > 0 {
		return nil
	}

	file, err := elf.Open(pathname)
	if err != nil {
		return errors.Wrap(err, "error opening ELF file")
	}
	defer file.Close()

	syms, err := file.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return errors.Wrap(err, "error reading ELF symtable section")
	}
	dynsyms, err := file.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return errors.Wrap(err, "error reading ELF dynsym section")
	}

	e.Type = file.Type
	e.SetSymbols(append(syms, dynsyms...))

	return nil
}

// SetSymbols replaces the table with the function symbols of syms.
func (e *ELFSymTab) SetSymbols(syms []elf.Symbol) {
	funcs := make([]elf.Symbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		funcs = append(funcs, s)
	}
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Value < funcs[j].Value })

	e.Symtab = funcs
	if e.cache != nil {
		e.cache.Purge()
	}
}

// GetSymbol returns the function symbol containing the file address ip.
func (e *ELFSymTab) GetSymbol(ip uint64) (elf.Symbol, error) {
	if e.cache != nil {
		if sym, ok := e.cache.Get(ip); ok {
			return sym, nil
		}
	}
	if len(e.Symtab) == 0 {
		return elf.Symbol{}, ErrSymTableEmpty
	}

	// First symbol starting after ip, the candidate is the one before.
	i := sort.Search(len(e.Symtab), func(i int) bool { return e.Symtab[i].Value > ip })
	if i == 0 {
		return elf.Symbol{}, ErrSymNotFound
	}
	sym := e.Symtab[i-1]
	if sym.Size > 0 && ip >= sym.Value+sym.Size {
		return elf.Symbol{}, ErrSymNotFound
	}
	if e.cache != nil {
		e.cache.Add(ip, sym)
	}

	return sym, nil
}

// GetName returns symbol name from an instruction pointer address.
func (e *ELFSymTab) GetName(ip uint64) (string, error) {
	sym, err := e.GetSymbol(ip)
	if err != nil {
		return "", err
	}
	return sym.Name, nil
}
