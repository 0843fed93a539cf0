// Package verify checks a packaged plugin before it is signed off for
// publishing. Checks run concurrently and report problems instead of stopping
// at the first one; only error-severity problems fail verification.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/litescript/smartim-build/internal/descriptor"
	"github.com/litescript/smartim-build/internal/pack"
	"github.com/litescript/smartim-build/internal/sign"
)

// MinDescriptionLength is the shortest description text the marketplace accepts.
const MinDescriptionLength = 40

const placeholderDescription = "Enter short description"

var ErrVerification = errors.New("plugin verification failed")

type Severity int

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Problem is a single finding.
type Problem struct {
	Severity Severity
	Check    string
	Message  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Check, p.Message)
}

// Input names the files to check. Empty paths skip their check.
type Input struct {
	Descriptor      string
	Distribution    string
	PluginJar       string
	ExpectedVersion string
	Signature       string
	PublicKey       string
}

// Report collects the findings of every check.
type Report struct {
	Problems []Problem
}

// Err aggregates error-severity problems, or returns nil.
func (r Report) Err() error {
	var merr *multierror.Error
	for _, p := range r.Problems {
		if p.Severity == Error {
			merr = multierror.Append(merr, errors.New(p.String()))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	return nil
}

// Warnings returns the warning-severity problems.
func (r Report) Warnings() []Problem {
	var out []Problem
	for _, p := range r.Problems {
		if p.Severity == Warning {
			out = append(out, p)
		}
	}
	return out
}

type collector struct {
	mu       sync.Mutex
	problems []Problem
}

func (c *collector) add(sev Severity, check, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.problems = append(c.problems, Problem{Severity: sev, Check: check, Message: fmt.Sprintf(format, args...)})
}

// Run executes every applicable check. The returned error is reserved for
// failures to run a check at all; findings go into the report.
func Run(ctx context.Context, in Input) (Report, error) {
	c := &collector{}
	g, ctx := errgroup.WithContext(ctx)

	if in.Descriptor != "" {
		g.Go(func() error {
			d, err := descriptor.Load(in.Descriptor)
			if err != nil {
				c.add(Error, "descriptor", "%v", err)
				return nil
			}
			checkDescriptor(c, d, in.ExpectedVersion)
			return ctx.Err()
		})
	}
	if in.Distribution != "" {
		g.Go(func() error {
			return checkArchive(c, in)
		})
	}
	if in.Distribution != "" && in.PublicKey != "" {
		g.Go(func() error {
			sig := in.Signature
			if sig == "" {
				sig = in.Distribution + sign.SignatureExt
			}
			if err := sign.Verify(in.Distribution, sig, in.PublicKey); err != nil {
				c.add(Error, "signature", "%v", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.SliceStable(c.problems, func(i, j int) bool {
		if c.problems[i].Check != c.problems[j].Check {
			return c.problems[i].Check < c.problems[j].Check
		}
		return c.problems[i].Message < c.problems[j].Message
	})
	return Report{Problems: c.problems}, nil
}

// Descriptor checks a parsed descriptor in isolation.
func Descriptor(d descriptor.Descriptor, expectedVersion string) Report {
	c := &collector{}
	checkDescriptor(c, d, expectedVersion)
	return Report{Problems: c.problems}
}

// checkDescriptor adds descriptor findings to c.
func checkDescriptor(c *collector, d descriptor.Descriptor, expectedVersion string) {
	const check = "descriptor"

	if strings.TrimSpace(d.ID) == "" {
		c.add(Error, check, "<id> is missing")
	}
	if strings.TrimSpace(d.Name) == "" {
		c.add(Error, check, "<name> is missing")
	}
	if strings.TrimSpace(d.Vendor.Name) == "" {
		c.add(Error, check, "<vendor> is missing")
	}

	desc := d.Description.Text()
	switch {
	case strings.Contains(desc, placeholderDescription):
		c.add(Error, check, "<description> still holds the template placeholder")
	case len([]rune(desc)) < MinDescriptionLength:
		c.add(Error, check, "<description> must be at least %d characters of text, got %d", MinDescriptionLength, len([]rune(desc)))
	case !hasLatin(desc):
		c.add(Warning, check, "<description> should contain English text")
	}

	if expectedVersion != "" && d.Version != expectedVersion {
		c.add(Error, check, "<version> is %q, expected %q", d.Version, expectedVersion)
	}

	since, until := d.IdeaVersion.SinceBuild, d.IdeaVersion.UntilBuild
	sinceOK := true
	if since == "" {
		c.add(Error, check, "since-build is missing")
		sinceOK = false
	} else if _, err := ParseBuild(since); err != nil || strings.Contains(since, "*") {
		c.add(Error, check, "since-build %q must be numeric", since)
		sinceOK = false
	}
	if until != "" {
		if _, err := ParseBuild(until); err != nil {
			c.add(Error, check, "until-build %q must be numeric or end in a wildcard", until)
		} else if sinceOK && CompareBuilds(since, until) > 0 {
			c.add(Error, check, "since-build %s is newer than until-build %s", since, until)
		}
	}
}

func hasLatin(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

// ParseBuild splits an IDE build number such as "241", "241.15989" or "999.*".
// A wildcard is only allowed as the last component and is returned as -1.
func ParseBuild(s string) ([]int, error) {
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for i, p := range parts {
		if p == "*" && i == len(parts)-1 && i > 0 {
			out = append(out, -1)
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid build number %q", s)
		}
		out = append(out, n)
	}
	return out, nil
}

// CompareBuilds orders two valid build numbers. A wildcard matches any
// component, so "999.*" is never older than "999.1".
func CompareBuilds(a, b string) int {
	pa, _ := ParseBuild(a)
	pb, _ := ParseBuild(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == -1 || pb[i] == -1 {
			switch {
			case pa[i] == pb[i]:
				return 0
			case pa[i] == -1:
				return 1
			default:
				return -1
			}
		}
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

func checkArchive(c *collector, in Input) error {
	const check = "archive"

	r, err := zip.OpenReader(in.Distribution)
	if err != nil {
		c.add(Error, check, "cannot open %s: %v", path.Base(in.Distribution), err)
		return nil
	}
	defer r.Close()

	roots := make(map[string]bool)
	var jar *zip.File
	for _, f := range r.File {
		if err := pack.ValidateEntry(f.Name); err != nil {
			c.add(Error, check, "%v", err)
			continue
		}
		root, rest, _ := strings.Cut(f.Name, "/")
		roots[root] = true
		if in.PluginJar != "" && rest == "lib/"+in.PluginJar {
			jar = f
		}
	}

	if len(roots) != 1 {
		names := make([]string, 0, len(roots))
		for r := range roots {
			names = append(names, r)
		}
		sort.Strings(names)
		c.add(Error, check, "expected exactly one top-level directory, found %d %v", len(roots), names)
	}

	if in.PluginJar == "" {
		return nil
	}
	if jar == nil {
		c.add(Error, check, "lib/%s is missing", in.PluginJar)
		return nil
	}

	return checkJar(c, jar, in.ExpectedVersion)
}

func checkJar(c *collector, f *zip.File, expectedVersion string) error {
	const check = "archive"

	rc, err := f.Open()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return err
	}

	jr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		c.add(Error, check, "%s is not a jar: %v", path.Base(f.Name), err)
		return nil
	}

	for _, e := range jr.File {
		if e.Name != pack.DescriptorEntry {
			continue
		}
		er, err := e.Open()
		if err != nil {
			return err
		}
		d, err := descriptor.Parse(er)
		er.Close()
		if err != nil {
			c.add(Error, check, "%s: %v", pack.DescriptorEntry, err)
			return nil
		}
		if expectedVersion != "" && d.Version != expectedVersion {
			c.add(Error, check, "%s in %s has version %q, expected %q", pack.DescriptorEntry, path.Base(f.Name), d.Version, expectedVersion)
		}
		return nil
	}

	c.add(Error, check, "%s has no %s", path.Base(f.Name), pack.DescriptorEntry)
	return nil
}
