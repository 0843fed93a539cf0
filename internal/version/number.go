package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SnapshotSuffix marks versions built without the release flag.
const SnapshotSuffix = "SNAPSHOT"

var (
	ErrInvalidVersion = errors.New("invalid version")
	ErrInvalidPart    = errors.New("invalid version part")
)

// Number is a plugin version triple.
type Number struct {
	Major int
	Minor int
	Patch int
}

// Default is used when version.properties is missing or incomplete.
var Default = Number{Major: 1, Minor: 0, Patch: 0}

// String formats the triple as major.minor.patch.
func (n Number) String() string {
	return fmt.Sprintf("%d.%d.%d", n.Major, n.Minor, n.Patch)
}

// Validate rejects negative components.
func (n Number) Validate() error {
	if n.Major < 0 || n.Minor < 0 || n.Patch < 0 {
		return fmt.Errorf("%w: %s has a negative component", ErrInvalidVersion, n)
	}
	return nil
}

// Derive returns the version string emitted for a build.
// Release builds get the bare triple, everything else is a snapshot.
func Derive(n Number, release bool) string {
	if release {
		return n.String()
	}
	return n.String() + "-" + SnapshotSuffix
}

// Parse reads "X.Y.Z", tolerating a leading "v" and a "-suffix".
// The suffix is returned without the dash.
func Parse(s string) (Number, string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "v")

	var suffix string
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		raw, suffix = raw[:i], raw[i+1:]
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Number{}, "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return Number{}, "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = v
	}

	return Number{Major: nums[0], Minor: nums[1], Patch: nums[2]}, suffix, nil
}

// Compare returns -1, 0 or 1 comparing a to b component by component.
func Compare(a, b Number) int {
	pairs := [][2]int{{a.Major, b.Major}, {a.Minor, b.Minor}, {a.Patch, b.Patch}}
	for _, p := range pairs {
		if p[0] > p[1] {
			return 1
		} else if p[0] < p[1] {
			return -1
		}
	}
	return 0
}

// Part names a version component for bumping.
type Part string

const (
	PartMajor Part = "major"
	PartMinor Part = "minor"
	PartPatch Part = "patch"
)

// ParsePart validates a component name.
func ParsePart(s string) (Part, error) {
	switch p := Part(strings.ToLower(strings.TrimSpace(s))); p {
	case PartMajor, PartMinor, PartPatch:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q (want major, minor or patch)", ErrInvalidPart, s)
	}
}

// Bump increments one component and resets the less significant ones.
func (n Number) Bump(p Part) Number {
	switch p {
	case PartMajor:
		return Number{Major: n.Major + 1}
	case PartMinor:
		return Number{Major: n.Major, Minor: n.Minor + 1}
	default:
		return Number{Major: n.Major, Minor: n.Minor, Patch: n.Patch + 1}
	}
}
