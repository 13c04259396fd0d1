package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/gluedoc/pkg/core"
)

const tabPrefix = "Tab "

// UniqueName returns a name derived from base that is not in existing. It scans
// names of the form base or base_N, treats the bare base as N=0, and returns
// base_(max+1). When nothing matches, the bare base is free and is returned.
func UniqueName(existing []string, base string) string {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(base) + `(?:_(\d+))?$`)
	max := -1
	for _, name := range existing {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n := 0
		if m[1] != "" {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			n = v
		}
		if n > max {
			max = n
		}
	}
	if max < 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, max+1)
}

// LinkBase returns the base name used when generating a name for link: the
// identity base for identity links, otherwise the last dotted segment of its type.
func LinkBase(link core.Link) string {
	if link.IsIdentity() || link.Type == "" {
		return core.IdentityLinkBase
	}
	if i := strings.LastIndex(link.Type, "."); i >= 0 && i < len(link.Type)-1 {
		return link.Type[i+1:]
	}
	return link.Type
}

// nextTabName returns "Tab n" for the smallest n >= 1 not already taken.
func nextTabName(existing []string) string {
	taken := make(map[int]bool, len(existing))
	for _, name := range existing {
		if !strings.HasPrefix(name, tabPrefix) {
			continue
		}
		n, err := strconv.Atoi(name[len(tabPrefix):])
		if err == nil && n > 0 {
			taken[n] = true
		}
	}
	n := 1
	for taken[n] {
		n++
	}
	return tabPrefix + strconv.Itoa(n)
}
