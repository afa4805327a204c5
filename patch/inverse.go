package patch

import "design-editor/core"

// CalculateInversePatches returns, in forward order, the patches that undo
// each of patches when applied to the state produced by applying them to
// doc. Pre-images are resolved progressively, so later patches see the
// effects of earlier ones.
func CalculateInversePatches(doc *core.Document, patches []Patch) ([]Patch, error) {
	_, inverse, err := run(doc, patches)
	if err != nil {
		return nil, err
	}
	return inverse, nil
}

// Reverse returns patches in reverse order. Undoing a batch applies the
// reverse of its inverse list.
func Reverse(patches []Patch) []Patch {
	out := make([]Patch, len(patches))
	for i, p := range patches {
		out[len(patches)-1-i] = p
	}
	return out
}
