package route

import (
	"fmt"
	"net/netip"
	"strings"
)

// Entry is one static route. An invalid Dst is the default route, an
// invalid Via is an on-link route. Table 0 is the main table.
type Entry struct {
	Node  string
	Dst   netip.Prefix
	Via   netip.Addr
	Dev   string
	Table int
}

func (e Entry) IsDefault() bool { return !e.Dst.IsValid() }

// Bits returns the prefix length used for longest-prefix matching.
func (e Entry) Bits() int {
	if e.IsDefault() {
		return 0
	}
	return e.Dst.Bits()
}

func (e Entry) Matches(dst netip.Addr) bool {
	return e.IsDefault() || e.Dst.Contains(dst)
}

// Destination renders the destination the way iproute2 does.
func (e Entry) Destination() string {
	if e.IsDefault() {
		return "default"
	}
	return e.Dst.String()
}

func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Destination())
	if e.Via.IsValid() {
		fmt.Fprintf(&sb, " via %s", e.Via)
	}
	if e.Dev != "" {
		fmt.Fprintf(&sb, " dev %s", e.Dev)
	}
	if e.Table != 0 {
		fmt.Fprintf(&sb, " table %d", e.Table)
	}
	return sb.String()
}

// Lookup returns the longest-prefix match for dst among entries.
func Lookup(entries []Entry, dst netip.Addr) (Entry, bool) {
	var best Entry
	found := false
	for _, e := range entries {
		if !e.Matches(dst) {
			continue
		}
		if !found || e.Bits() > best.Bits() {
			best, found = e, true
		}
	}
	return best, found
}
