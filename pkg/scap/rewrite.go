package scap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

// RewriteVariant tags which substitution engine produced a rewritten
// datastream.
type RewriteVariant string

const (
	// StructuralRewrite walked the parsed element tree.
	StructuralRewrite RewriteVariant = "structural"
	// TextualRewrite substituted over raw lines because the document
	// defeated the structural parser. Lower fidelity.
	TextualRewrite RewriteVariant = "textual"
)

// MarkerPair is one identity-encoding identifier substitution.
type MarkerPair struct {
	From string
	To   string
}

// MarkerPairs derives the substitution set for adapting content published
// for one identity to another, ordered longest From first so that a short
// marker can never corrupt a longer one containing it.
func MarkerPairs(from, to OSIdentity) []MarkerPair {
	all := []MarkerPair{
		{From: from.CPE(), To: to.CPE()},
		{From: from.Product(), To: to.Product()},
		{From: from.ProductBase(), To: to.ProductBase()},
		{From: from.Abbrev(), To: to.Abbrev()},
		{From: from.Short(), To: to.Short()},
	}
	pairs := all[:0]
	for _, p := range all {
		if p.From != p.To {
			pairs = append(pairs, p)
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].From) > len(pairs[j].From)
	})
	return pairs
}

func applyPairs(s string, pairs []MarkerPair) string {
	for _, p := range pairs {
		s = strings.ReplaceAll(s, p.From, p.To)
	}
	return s
}

// RewriteDatastream replaces every identity marker of from with the
// matching marker of to, across attribute values and character data of the
// whole document. Documents the structural parser cannot read are rewritten
// line by line instead and tagged TextualRewrite.
func RewriteDatastream(src []byte, from, to OSIdentity) ([]byte, RewriteVariant, error) {
	pairs := MarkerPairs(from, to)
	if len(pairs) == 0 {
		return nil, "", fmt.Errorf("no markers distinguish %s from %s", from, to)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(src); err != nil || doc.Root() == nil {
		return rewriteTextual(src, pairs), TextualRewrite, nil
	}

	rewriteElement(&doc.Element, pairs)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, StructuralRewrite, fmt.Errorf("serialize rewritten document: %v", err)
	}
	if err := etree.NewDocument().ReadFromBytes(out); err != nil {
		return nil, StructuralRewrite, fmt.Errorf("rewritten document is not well-formed: %v", err)
	}
	return out, StructuralRewrite, nil
}

// rewriteElement applies the pairs to an element's attributes and to all
// character data beneath it, including text between child elements.
func rewriteElement(el *etree.Element, pairs []MarkerPair) {
	for i := range el.Attr {
		el.Attr[i].Value = applyPairs(el.Attr[i].Value, pairs)
	}
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.Element:
			rewriteElement(t, pairs)
		case *etree.CharData:
			t.Data = applyPairs(t.Data, pairs)
		}
	}
}

func rewriteTextual(src []byte, pairs []MarkerPair) []byte {
	lines := strings.Split(string(src), "\n")
	for i, line := range lines {
		lines[i] = applyPairs(line, pairs)
	}
	return []byte(strings.Join(lines, "\n"))
}
