package probeloader

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrModuleNotMapped is returned when no mapping of the target matches a module name.
var ErrModuleNotMapped = errors.New("module not mapped in target")

// MappedPaths lists the file-backed mappings of a process.
type MappedPaths func(pid int32) ([]string, error)

// ProcessMappedPaths reads the target's memory maps through gopsutil.
func ProcessMappedPaths(pid int32) ([]string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "opening process %d", pid)
	}
	maps, err := proc.MemoryMaps(true)
	if err != nil {
		return nil, errors.Wrapf(err, "reading memory maps of %d", pid)
	}

	paths := make([]string, 0, len(*maps))
	for _, m := range *maps {
		if strings.HasPrefix(m.Path, "/") {
			paths = append(paths, m.Path)
		}
	}
	return paths, nil
}

// ResolveModule maps a module name to the file the target has loaded it from.
// An absolute path that exists on disk is returned as is. Otherwise the first
// mapping whose base name equals module, ignoring case, wins; Wine prefixes do
// not preserve the case Windows code asks for.
func ResolveModule(pid int32, module string, mapped MappedPaths) (string, error) {
	if filepath.IsAbs(module) {
		if _, err := os.Stat(module); err != nil {
			return "", errors.Wrapf(err, "module %s", module)
		}
		return module, nil
	}

	paths, err := mapped(pid)
	if err != nil {
		return "", err
	}
	if path, ok := matchModule(paths, module); ok {
		return path, nil
	}
	return "", errors.Wrapf(ErrModuleNotMapped, "%s (pid %d)", module, pid)
}

func matchModule(paths []string, module string) (string, bool) {
	for _, p := range paths {
		// deleted mappings keep their old path with a suffix
		p = strings.TrimSuffix(p, " (deleted)")
		if strings.EqualFold(filepath.Base(p), module) {
			return p, true
		}
	}
	return "", false
}
