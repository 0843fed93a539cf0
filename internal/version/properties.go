package version

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// FileName is the conventional name of the version properties file.
const FileName = "version.properties"

// Property keys persisted in version.properties.
const (
	KeyMajor = "major"
	KeyMinor = "minor"
	KeyPatch = "patch"
)

const storeComment = "Auto-incremented version"

var ErrBadProperty = errors.New("bad version property")

var loadOptions = ini.LoadOptions{
	IgnoreInlineComment:     true,
	SkipUnrecognizableLines: true,
}

// Load reads the version triple from a properties file.
// A missing file or a missing key falls back to Default.
func Load(path string) (Number, error) {
	n := Default

	f, err := readProperties(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return n, nil
		}
		return n, err
	}

	sec := f.Section("")
	fields := []struct {
		key string
		dst *int
	}{
		{KeyMajor, &n.Major},
		{KeyMinor, &n.Minor},
		{KeyPatch, &n.Patch},
	}
	for _, fld := range fields {
		if !sec.HasKey(fld.key) {
			continue
		}
		raw := sec.Key(fld.key).String()
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return Default, fmt.Errorf("%w: %s=%q in %s", ErrBadProperty, fld.key, raw, path)
		}
		*fld.dst = v
	}

	return n, nil
}

// Save persists the triple, keeping any unrelated keys already in the file.
// The file is replaced atomically.
func Save(path string, n Number) error {
	if err := n.Validate(); err != nil {
		return err
	}

	f, err := readProperties(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		f = ini.Empty(loadOptions)
	}

	sec := f.Section("")
	sec.Comment = ""
	values := []struct {
		key string
		v   int
	}{
		{KeyMajor, n.Major},
		{KeyMinor, n.Minor},
		{KeyPatch, n.Patch},
	}
	for _, kv := range values {
		if sec.HasKey(kv.key) {
			sec.Key(kv.key).SetValue(strconv.Itoa(kv.v))
			continue
		}
		if _, err := sec.NewKey(kv.key, strconv.Itoa(kv.v)); err != nil {
			return fmt.Errorf("failed to set %s: %w", kv.key, err)
		}
	}
	// The previous store header is attached to the first key; it is rewritten below.
	if keys := sec.Keys(); len(keys) > 0 {
		keys[0].Comment = ""
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "#%s\n#%s\n", storeComment, time.Now().Format(time.UnixDate))
	writeProperties(&buf, sec)

	return writeAtomic(path, buf.Bytes())
}

// IncrementPatch bumps the stored patch component by one and returns the new triple.
func IncrementPatch(path string) (Number, error) {
	n, err := Load(path)
	if err != nil {
		return n, err
	}

	n = n.Bump(PartPatch)
	if err := Save(path, n); err != nil {
		return n, err
	}

	return n, nil
}

// writeProperties renders a section as unpadded key=value lines, the way
// Java properties files are stored.
func writeProperties(buf *bytes.Buffer, sec *ini.Section) {
	for _, k := range sec.Keys() {
		if k.Comment != "" {
			for _, line := range strings.Split(k.Comment, "\n") {
				if !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, ";") {
					buf.WriteString("# ")
				}
				buf.WriteString(line)
				buf.WriteByte('\n')
			}
		}
		buf.WriteString(k.Name())
		buf.WriteByte('=')
		buf.WriteString(k.Value())
		buf.WriteByte('\n')
	}
}

func readProperties(path string) (*ini.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".version-*.properties")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
