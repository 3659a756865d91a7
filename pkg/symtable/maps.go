package symtable

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformedMapping = errors.New("malformed mapping")

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start    uint64
	End      uint64
	Perms    string
	Offset   uint64
	Pathname string
}

func (m Mapping) Contains(address uint64) bool {
	return address >= m.Start && address < m.End
}

func (m Mapping) Executable() bool {
	return len(m.Perms) >= 3 && m.Perms[2] == 'x'
}

// FileBacked reports whether the mapping comes from a file on disk, as
// opposed to anonymous memory or a pseudo mapping like [vdso].
func (m Mapping) FileBacked() bool {
	return strings.HasPrefix(m.Pathname, "/")
}

// ParseMaps parses the content of a /proc/<pid>/maps file.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m, err := parseMapping(line)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading mappings")
	}

	return mappings, nil
}

func parseMapping(line string) (Mapping, error) {
	// address perms offset dev inode [pathname]
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, errors.Wrapf(ErrMalformedMapping, "%q", line)
	}

	start, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Mapping{}, errors.Wrapf(ErrMalformedMapping, "%q", line)
	}

	var (
		m   = Mapping{Perms: fields[1]}
		err error
	)
	if m.Start, err = strconv.ParseUint(start, 16, 64); err != nil {
		return Mapping{}, errors.Wrap(err, "error parsing mapping start")
	}
	if m.End, err = strconv.ParseUint(end, 16, 64); err != nil {
		return Mapping{}, errors.Wrap(err, "error parsing mapping end")
	}
	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return Mapping{}, errors.Wrap(err, "error parsing mapping offset")
	}
	if len(fields) > 5 {
		// Paths can contain spaces.
		m.Pathname = strings.Join(fields[5:], " ")
	}

	return m, nil
}
