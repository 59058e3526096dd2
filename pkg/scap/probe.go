package scap

import (
	"os"
	"sort"
)

// Candidate is one probed datastream location.
type Candidate struct {
	Path     string
	Priority int // higher probed first
}

// FindFirstExisting returns the first candidate, in descending priority
// order, that resolves to a readable regular file. Dangling symlinks count
// as missing. A stat or open failure on one candidate does not abort the
// probe; the next candidate is tried.
func FindFirstExisting(candidates []Candidate) (string, bool) {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, c := range ordered {
		info, err := os.Stat(c.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		f, err := os.Open(c.Path)
		if err != nil {
			continue
		}
		f.Close()
		return c.Path, true
	}
	return "", false
}
