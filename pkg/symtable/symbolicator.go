package symtable

import (
	"debug/elf"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/crashenv/pkg/stack"
)

// ProcessSymbolicator resolves code addresses of a live process through
// its memory mappings and the symbol tables of the mapped images.
// It is not safe for concurrent use.
type ProcessSymbolicator struct {
	mapsPath  string
	imageRoot string
	logger    log.Logger

	mappings []Mapping
	tables   map[string]*ELFSymTab
	failed   map[string]bool
}

type SymbolicatorOpt func(*ProcessSymbolicator)

// WithMapsFile sets the path of the maps file, usually /proc/<pid>/maps.
func WithMapsFile(path string) SymbolicatorOpt {
	return func(s *ProcessSymbolicator) {
		s.mapsPath = path
	}
}

// WithImageRoot prefixes image paths when opening them, e.g. with
// /proc/<pid>/root for processes running in another mount namespace.
func WithImageRoot(root string) SymbolicatorOpt {
	return func(s *ProcessSymbolicator) {
		s.imageRoot = root
	}
}

// WithSymTab registers an already loaded symbol table for an image path.
func WithSymTab(pathname string, tab *ELFSymTab) SymbolicatorOpt {
	return func(s *ProcessSymbolicator) {
		s.tables[pathname] = tab
	}
}

func WithLogger(logger log.Logger) SymbolicatorOpt {
	return func(s *ProcessSymbolicator) {
		s.logger = logger
	}
}

func NewProcessSymbolicator(opts ...SymbolicatorOpt) *ProcessSymbolicator {
	s := &ProcessSymbolicator{
		logger: log.Nop(),
		tables: make(map[string]*ELFSymTab),
		failed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "symbolicator").Logger()

	return s
}

// Init reads the memory mappings. It must be called again after the
// target loads or unloads images.
func (s *ProcessSymbolicator) Init() error {
	f, err := os.Open(s.mapsPath)
	if err != nil {
		return errors.Wrap(err, "error opening maps file")
	}
	defer f.Close()

	mappings, err := ParseMaps(f)
	if err != nil {
		return err
	}
	s.mappings = mappings[:0]
	for _, m := range mappings {
		if m.FileBacked() {
			s.mappings = append(s.mappings, m)
		}
	}
	s.logger.Debug().Int("mappings", len(s.mappings)).Msg("mappings loaded")

	return nil
}

// Mappings returns the file backed mappings read by Init.
func (s *ProcessSymbolicator) Mappings() []Mapping {
	return s.mappings
}

// Symbolicate implements stack.Symbolicator. It returns false when no
// executable image contains address; the symbol fields stay empty when
// the image has no symbol for it.
func (s *ProcessSymbolicator) Symbolicate(address uint64, frame *stack.Frame) bool {
	m, ok := s.mappingOf(address)
	if !ok {
		return false
	}
	base := s.loadBase(m)
	frame.ImageName = m.Pathname
	frame.ImageAddress = base

	tab := s.symtab(m.Pathname)
	if tab == nil {
		return true
	}

	var bias uint64
	if tab.Type == elf.ET_DYN {
		bias = base
	}
	sym, err := tab.GetSymbol(address - bias)
	if err != nil {
		return true
	}
	frame.SymbolName = sym.Name
	frame.SymbolAddress = sym.Value + bias

	return true
}

func (s *ProcessSymbolicator) mappingOf(address uint64) (Mapping, bool) {
	for _, m := range s.mappings {
		if m.Executable() && m.Contains(address) {
			return m, true
		}
	}
	return Mapping{}, false
}

// loadBase is the address the image's first byte is mapped at.
func (s *ProcessSymbolicator) loadBase(exec Mapping) uint64 {
	for _, m := range s.mappings {
		if m.Pathname == exec.Pathname && m.Offset == 0 {
			return m.Start
		}
	}
	return exec.Start - exec.Offset
}

func (s *ProcessSymbolicator) symtab(pathname string) *ELFSymTab {
	if tab, ok := s.tables[pathname]; ok {
		return tab
	}
	if s.failed[pathname] {
		return nil
	}

	tab := NewELFSymTab()
	if err := tab.Load(filepath.Join(s.imageRoot, pathname)); err != nil {
		s.logger.Debug().Err(err).Str("image", pathname).Msg("cannot load symbols")
		s.failed[pathname] = true
		return nil
	}
	s.tables[pathname] = tab

	return tab
}
