// Package changeset labels decoded listings with positional change ids and
// filters them by the ids a user accepted in the preview.
package changeset

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/catalog"
)

const idPrefix = "change_"

// Entry is one decoded listing and its change id.
type Entry struct {
	ChangeID string
	Index    int
	Listing  catalog.Listing
}

// ID returns the change id for the listing at index i of the decoded list.
func ID(i int) string { return idPrefix + strconv.Itoa(i+1) }

// Assign numbers listings in decode order. Preview and apply both call it on
// the output of the same decode, so the same bytes always get the same ids.
func Assign(listings []catalog.Listing) []Entry {
	out := make([]Entry, len(listings))
	for i, l := range listings {
		out[i] = Entry{ChangeID: ID(i), Index: i, Listing: l}
	}
	return out
}

// Accepted is the set of change ids the user kept. The zero value accepts nothing.
type Accepted struct {
	all bool
	ids map[string]struct{}
}

func All() Accepted { return Accepted{all: true} }

func NewAccepted(ids ...string) Accepted {
	a := Accepted{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a.ids[id] = struct{}{}
		}
	}
	return a
}

// ParseAccepted reads "all" or a comma separated id list. Bare numbers are
// accepted as shorthand for change_<n>.
func ParseAccepted(s string) Accepted {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "all") {
		return All()
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			p = ID(n - 1)
		}
		parts[i] = p
	}
	return NewAccepted(parts...)
}

func (a Accepted) Has(changeID string) bool {
	if a.all {
		return true
	}
	_, ok := a.ids[changeID]
	return ok
}

func (a Accepted) IsAll() bool { return a.all }

// IDs lists the accepted ids in numeric order. It returns nil for All.
func (a Accepted) IDs() []string {
	if a.all {
		return nil
	}
	out := make([]string, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := ordinal(out[i]), ordinal(out[j])
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out
}

func (a Accepted) String() string {
	if a.all {
		return "all"
	}
	return strings.Join(a.IDs(), ",")
}

func ordinal(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, idPrefix))
	if err != nil {
		return -1
	}
	return n
}

// Filter keeps the accepted entries, preserving order.
func Filter(entries []Entry, accepted Accepted) []Entry {
	var out []Entry
	for _, e := range entries {
		if accepted.Has(e.ChangeID) {
			out = append(out, e)
		}
	}
	return out
}
