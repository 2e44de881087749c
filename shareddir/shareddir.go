// Package shareddir manages a peer or server's on-disk content directory:
// an in-memory map of filename to File, backed by a directory layout of
// plain files, ".crtemp" partials, and ".crinfo" descriptors.
package shareddir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/filefabric/ctp/fileinfo"
)

const (
	crinfoDir    = "crinfo"
	crinfoSuffix = ".crinfo"
	tempSuffix   = ".crtemp"
)

// SharedDirectory owns the File and FileInfo instances rooted at Root. All
// exported methods are safe for concurrent use.
type SharedDirectory struct {
	Root string

	mu      sync.RWMutex
	filemap map[string]*fileinfo.File
}

// New returns a SharedDirectory rooted at root, creating root and its
// crinfo subdirectory if absent.
func New(root string) (*SharedDirectory, error) {
	if err := os.MkdirAll(filepath.Join(root, crinfoDir), 0o755); err != nil {
		return nil, fmt.Errorf("shareddir: create root: %w", err)
	}
	return &SharedDirectory{Root: root, filemap: make(map[string]*fileinfo.File)}, nil
}

func (d *SharedDirectory) crinfoPath(name string) string {
	return filepath.Join(d.Root, crinfoDir, name+crinfoSuffix)
}

func (d *SharedDirectory) dataPath(name string) string {
	return filepath.Join(d.Root, name)
}

func (d *SharedDirectory) tempPath(name string) string {
	return filepath.Join(d.Root, name+tempSuffix)
}

// Refresh rescans Root and D/crinfo, rebuilding filemap from whatever is on
// disk. It never returns an error for individual corrupt entries — those
// are logged and skipped — but does fail if Root itself cannot be read.
func (d *SharedDirectory) Refresh() error {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return fmt.Errorf("shareddir: read root: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.filemap = make(map[string]*fileinfo.File)

	seen := make(map[string]bool)
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || name == crinfoDir {
			continue
		}
		switch {
		case strings.HasSuffix(name, tempSuffix):
			filename := strings.TrimSuffix(name, tempSuffix)
			f, err := d.loadTemp(filename)
			if err != nil {
				log.Warnf("shareddir: skipping corrupt temp file %q: %v", name, err)
				continue
			}
			d.filemap[filename] = f
			seen[filename] = true
		default:
			f, err := d.loadFull(name)
			if err != nil {
				log.Warnf("shareddir: skipping corrupt file %q: %v", name, err)
				continue
			}
			d.filemap[name] = f
			seen[name] = true
		}
	}

	descriptors, err := os.ReadDir(filepath.Join(d.Root, crinfoDir))
	if err != nil {
		return fmt.Errorf("shareddir: read crinfo dir: %w", err)
	}
	for _, ent := range descriptors {
		name := ent.Name()
		if !strings.HasSuffix(name, crinfoSuffix) {
			continue
		}
		filename := strings.TrimSuffix(name, crinfoSuffix)
		if seen[filename] {
			continue
		}
		info, err := d.loadInfo(filename)
		if err != nil {
			log.Warnf("shareddir: skipping corrupt descriptor %q: %v", name, err)
			continue
		}
		d.filemap[filename] = fileinfo.NewEmptyFile(info)
	}
	return nil
}

func (d *SharedDirectory) loadInfo(filename string) (fileinfo.FileInfo, error) {
	data, err := os.ReadFile(d.crinfoPath(filename))
	if err != nil {
		return fileinfo.FileInfo{}, err
	}
	return fileinfo.ParseCRINFO(filename, data)
}

func (d *SharedDirectory) loadFull(filename string) (*fileinfo.File, error) {
	content, err := os.ReadFile(d.dataPath(filename))
	if err != nil {
		return nil, err
	}
	// A data file dropped into the directory by hand has no descriptor
	// yet; build one from the content and persist it.
	info, err := d.loadInfo(filename)
	if err != nil {
		f := fileinfo.NewFileFromContent(filename, content, timestampNow())
		if werr := os.WriteFile(d.crinfoPath(filename), f.Info.MarshalCRINFO(), 0o644); werr != nil {
			return nil, werr
		}
		return f, nil
	}
	return fileinfo.NewFileFromContent(filename, content, info.Timestamp), nil
}

func (d *SharedDirectory) loadTemp(filename string) (*fileinfo.File, error) {
	info, err := d.loadInfo(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.tempPath(filename))
	if err != nil {
		return nil, err
	}
	return fileinfo.DecodeTemp(info, data)
}

// Get returns the cached File for filename, if any.
func (d *SharedDirectory) Get(filename string) (*fileinfo.File, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.filemap[filename]
	return f, ok
}

// FindByHash returns the File whose descriptor carries the given content
// hash, if any is currently tracked.
func (d *SharedDirectory) FindByHash(hash [16]byte) (*fileinfo.File, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, f := range d.filemap {
		if f.Info.FileHash == hash {
			return f, true
		}
	}
	return nil, false
}

// Filenames returns every filename currently tracked.
func (d *SharedDirectory) Filenames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.filemap))
	for name := range d.filemap {
		names = append(names, name)
	}
	return names
}

// AddFile writes content to disk as filename, overwriting any prior entry,
// and caches the resulting File.
func (d *SharedDirectory) AddFile(filename string, content []byte) (*fileinfo.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(filename)

	f := fileinfo.NewFileFromContent(filename, content, timestampNow())
	if err := os.WriteFile(d.dataPath(filename), content, 0o644); err != nil {
		return nil, fmt.Errorf("shareddir: write %q: %w", filename, err)
	}
	if err := os.WriteFile(d.crinfoPath(filename), f.Info.MarshalCRINFO(), 0o644); err != nil {
		return nil, fmt.Errorf("shareddir: write descriptor for %q: %w", filename, err)
	}
	d.filemap[filename] = f
	return f, nil
}

// AddFileInfo installs a CRINFO descriptor for a not-yet-downloaded file:
// it writes the descriptor, then an all-blocks-absent CRTEMP placeholder.
func (d *SharedDirectory) AddFileInfo(filename string, crinfoBytes []byte) (*fileinfo.File, error) {
	info, err := fileinfo.ParseCRINFO(filename, crinfoBytes)
	if err != nil {
		return nil, fmt.Errorf("shareddir: parse descriptor for %q: %w", filename, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.WriteFile(d.crinfoPath(filename), crinfoBytes, 0o644); err != nil {
		return nil, fmt.Errorf("shareddir: write descriptor for %q: %w", filename, err)
	}
	f := fileinfo.NewEmptyFile(info)
	if err := os.WriteFile(d.tempPath(filename), fileinfo.EncodeTemp(f), 0o644); err != nil {
		return nil, fmt.Errorf("shareddir: write temp file for %q: %w", filename, err)
	}
	d.filemap[filename] = f
	return f, nil
}

// PersistFile writes f's current state to disk: the plain data file if
// fully downloaded (removing the temp file), the temp file otherwise. A
// partial write leaves any existing data file in place.
func (d *SharedDirectory) PersistFile(filename string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.filemap[filename]
	if !ok {
		return fmt.Errorf("shareddir: %q is not tracked", filename)
	}
	if f.Downloaded() {
		content, err := f.Content()
		if err != nil {
			return fmt.Errorf("shareddir: persist %q: %w", filename, err)
		}
		if err := os.WriteFile(d.dataPath(filename), content, 0o644); err != nil {
			return fmt.Errorf("shareddir: write %q: %w", filename, err)
		}
		_ = os.Remove(d.tempPath(filename))
		return nil
	}
	if err := os.WriteFile(d.tempPath(filename), fileinfo.EncodeTemp(f), 0o644); err != nil {
		return fmt.Errorf("shareddir: write temp file for %q: %w", filename, err)
	}
	return nil
}

// DeleteFile removes filename from the map and unlinks its data, temp, and
// descriptor files on disk.
func (d *SharedDirectory) DeleteFile(filename string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeLocked(filename)
}

func (d *SharedDirectory) removeLocked(filename string) error {
	delete(d.filemap, filename)
	var firstErr error
	for _, path := range []string{d.dataPath(filename), d.tempPath(filename), d.crinfoPath(filename)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("shareddir: remove %q: %w", path, err)
		}
	}
	return firstErr
}
