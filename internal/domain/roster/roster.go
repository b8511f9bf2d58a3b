// Package roster defines the fixed specialist roster and its name resolution.
package roster

import "strings"

// Specialist describes one roster member the router may delegate to.
type Specialist struct {
	Name      string `json:"name"`
	ShortDesc string `json:"short_desc"`
}

// Roster is the fixed set of specialists for a deployment. Resolution goes
// through Normalize, so roster names may carry punctuation and casing.
type Roster struct {
	members    []Specialist
	normalized map[string]string // normalized name -> canonical name
}

// New builds a roster from the given specialists. Later duplicates (after
// normalization) are ignored so resolution stays deterministic.
func New(members ...Specialist) *Roster {
	r := &Roster{normalized: make(map[string]string, len(members))}
	for _, m := range members {
		key := Normalize(m.Name)
		if _, exists := r.normalized[key]; exists {
			continue
		}
		r.normalized[key] = m.Name
		r.members = append(r.members, m)
	}
	return r
}

// Members returns the roster in registration order.
func (r *Roster) Members() []Specialist {
	out := make([]Specialist, len(r.members))
	copy(out, r.members)
	return out
}

// Resolve maps a requested target to its canonical roster name. The empty
// string and unknown targets resolve to ("", false); delegation to them must
// be downgraded at the boundary, never dispatched.
func (r *Roster) Resolve(target string) (string, bool) {
	if strings.TrimSpace(target) == "" {
		return "", false
	}
	canonical, ok := r.normalized[Normalize(target)]
	return canonical, ok
}

// quoteVariants maps typographic quote characters to the ASCII apostrophe.
var quoteVariants = strings.NewReplacer(
	"’", "'", // right single quote
	"‘", "'", // left single quote
	"`", "'",
)

// Normalize canonicalizes a specialist name for resolution: trim, lowercase,
// unify quote variants, drop apostrophes, and treat underscores as spaces.
// "Devil's Advocate", "devil’s advocate" and "devils_advocate" all
// normalize to "devils advocate".
func Normalize(name string) string {
	s := strings.TrimSpace(name)
	s = strings.ToLower(s)
	s = quoteVariants.Replace(s)
	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "_", " ")
	return s
}
