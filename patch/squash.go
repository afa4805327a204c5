package patch

// Squash coalesces runs of adjacent Replace patches on the same path into a
// single Replace carrying the last value and the first oldValue. No other
// patches are merged.
func Squash(patches []Patch) []Patch {
	out := make([]Patch, 0, len(patches))
	for _, p := range patches {
		if n := len(out); n > 0 && p.op == OpReplace && out[n-1].op == OpReplace && out[n-1].path.equal(p.path) {
			out[n-1] = Patch{
				op:       OpReplace,
				path:     p.path,
				value:    p.value,
				oldValue: out[n-1].oldValue,
				index:    NoIndex,
			}
			continue
		}
		out = append(out, p)
	}
	return out
}
