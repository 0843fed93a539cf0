// Package pack assembles the plugin jar and the distribution zip.
//
// The distribution layout is the one the IDE installs from disk:
//
//	<artifact>/
//	└── lib/
//	    ├── <artifact>-<version>.jar   (classes, resources, META-INF/plugin.xml)
//	    └── <dependency>.jar ...
package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// DescriptorEntry is where the IDE looks for the plugin descriptor inside the jar.
const DescriptorEntry = "META-INF/plugin.xml"

// ReproducibleTime is the entry timestamp used for reproducible archives.
var ReproducibleTime = time.Date(1980, time.February, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrPathEscape    = errors.New("path escapes archive root")
	ErrMissingInput  = errors.New("missing packaging input")
	ErrDuplicateFile = errors.New("duplicate archive entry")
)

// Artifact describes a written archive.
type Artifact struct {
	Path   string
	Size   int64
	SHA256 string
}

// JarSpec describes the plugin jar.
type JarSpec struct {
	Path         string
	ClassesDir   string
	ResourcesDir string
	// Descriptor is the patched plugin.xml; it replaces the one under ResourcesDir.
	Descriptor   string
	CreatedBy    string
	Reproducible bool
}

// DistributionSpec describes the distribution zip.
type DistributionSpec struct {
	Path         string
	RootDir      string
	PluginJar    string
	Libraries    []string
	Reproducible bool
}

// Jar writes the plugin jar.
func Jar(spec JarSpec) (Artifact, error) {
	if _, err := os.Stat(spec.ClassesDir); err != nil {
		return Artifact{}, fmt.Errorf("%w: classes dir %s: %w", ErrMissingInput, spec.ClassesDir, err)
	}
	if _, err := os.Stat(spec.Descriptor); err != nil {
		return Artifact{}, fmt.Errorf("%w: descriptor %s: %w", ErrMissingInput, spec.Descriptor, err)
	}

	w, err := newWriter(spec.Path, spec.Reproducible)
	if err != nil {
		return Artifact{}, err
	}
	defer w.abort()

	manifest := "Manifest-Version: 1.0\r\n"
	if spec.CreatedBy != "" {
		manifest += "Created-By: " + spec.CreatedBy + "\r\n"
	}
	manifest += "\r\n"
	if err := w.addBytes("META-INF/MANIFEST.MF", []byte(manifest)); err != nil {
		return Artifact{}, err
	}
	if err := w.addFile(DescriptorEntry, spec.Descriptor); err != nil {
		return Artifact{}, err
	}
	if err := w.addTree(spec.ClassesDir); err != nil {
		return Artifact{}, err
	}
	if spec.ResourcesDir != "" {
		if _, err := os.Stat(spec.ResourcesDir); err == nil {
			if err := w.addTree(spec.ResourcesDir); err != nil {
				return Artifact{}, err
			}
		}
	}

	return w.close()
}

// Distribution writes the distribution zip.
func Distribution(spec DistributionSpec) (Artifact, error) {
	if spec.RootDir == "" || strings.ContainsAny(spec.RootDir, `/\`) {
		return Artifact{}, fmt.Errorf("%w: invalid root dir %q", ErrPathEscape, spec.RootDir)
	}

	jars := append([]string{spec.PluginJar}, spec.Libraries...)
	for _, j := range jars {
		if _, err := os.Stat(j); err != nil {
			return Artifact{}, fmt.Errorf("%w: %s: %w", ErrMissingInput, j, err)
		}
	}

	w, err := newWriter(spec.Path, spec.Reproducible)
	if err != nil {
		return Artifact{}, err
	}
	defer w.abort()

	if err := w.addDir(spec.RootDir + "/"); err != nil {
		return Artifact{}, err
	}
	if err := w.addDir(spec.RootDir + "/lib/"); err != nil {
		return Artifact{}, err
	}
	for _, j := range jars {
		if err := w.addFile(path.Join(spec.RootDir, "lib", filepath.Base(j)), j); err != nil {
			return Artifact{}, err
		}
	}

	return w.close()
}

// Checksum returns the size and SHA-256 of a file.
func Checksum(p string) (int64, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateEntry rejects entry names that would escape the extraction root.
func ValidateEntry(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	for _, part := range strings.Split(strings.TrimSuffix(name, "/"), "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", ErrPathEscape, name)
		}
	}
	return nil
}

type writer struct {
	path         string
	tmp          *os.File
	zw           *zip.Writer
	reproducible bool
	seen         map[string]bool
	closed       bool
}

func newWriter(dst string, reproducible bool) (*writer, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pack-*")
	if err != nil {
		return nil, err
	}
	return &writer{
		path:         dst,
		tmp:          tmp,
		zw:           zip.NewWriter(tmp),
		reproducible: reproducible,
		seen:         make(map[string]bool),
	}, nil
}

func (w *writer) header(name string, mod time.Time) (*zip.FileHeader, error) {
	if err := ValidateEntry(name); err != nil {
		return nil, err
	}
	if w.seen[name] {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFile, name)
	}
	w.seen[name] = true

	if w.reproducible {
		mod = ReproducibleTime
	}
	return &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod}, nil
}

func (w *writer) addDir(name string) error {
	hdr, err := w.header(name, time.Now())
	if err != nil {
		return err
	}
	hdr.Method = zip.Store
	_, err = w.zw.CreateHeader(hdr)
	return err
}

func (w *writer) addBytes(name string, data []byte) error {
	hdr, err := w.header(name, time.Now())
	if err != nil {
		return err
	}
	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

func (w *writer) addFile(name, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr, err := w.header(name, info.ModTime())
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, f)
	return err
}

// addTree adds every regular file below root, in lexical order.
// Entries already written, including the patched descriptor, win over later trees.
func (w *writer) addTree(root string) error {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, p := range files {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if w.seen[name] {
			continue
		}
		if err := w.addFile(name, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) close() (Artifact, error) {
	if err := w.zw.Close(); err != nil {
		return Artifact{}, err
	}
	if err := w.tmp.Close(); err != nil {
		return Artifact{}, err
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		return Artifact{}, err
	}
	w.closed = true

	size, sum, err := Checksum(w.path)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: w.path, Size: size, SHA256: sum}, nil
}

func (w *writer) abort() {
	if w.closed {
		return
	}
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}
