// Package compat holds platform version parsing and the capability
// thresholds that gate optional stream kinds.
package compat

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted platform version such as "1.43" or "27.3.1".
// The zero value is the lowest possible version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// MinStartupStreams is the lowest platform API version that can serve the
// startup-phase log streams of a container. Older platforms only expose the
// steady-state stdout/stderr channels.
var MinStartupStreams = Version{Major: 1, Minor: 42}

// Parse parses a dotted version string. A leading "v" and a pre-release
// suffix after "-" or "+" are tolerated and ignored.
func Parse(s string) (Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(trimmed, "-+"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	parts := strings.Split(trimmed, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q: too many components", s)
	}

	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: bad component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0, or 1 depending on whether v is lower than, equal
// to, or higher than o.
func (v Version) Compare(o Version) int {
	pairs := [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}}
	for _, p := range pairs {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v is o or higher.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
