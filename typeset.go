package mtbd

//UnknownType is the sentinel index for a sample whose type is not known.
//Leaves carrying it are marginalized over all types during the traversal.
const UnknownType = -1

//TypeSet maps type (deme) labels to contiguous indices
type TypeSet struct {
	names []string
	index map[string]int
}

//NewTypeSet will build a TypeSet from an ordered list of labels. With no
//labels a single unnamed type is assumed.
func NewTypeSet(names ...string) *TypeSet {
	if len(names) == 0 {
		names = []string{"0"}
	}
	ts := &TypeSet{names: names, index: make(map[string]int)}
	for i, nm := range names {
		ts.index[nm] = i
	}
	return ts
}

//Count will return the number of types
func (ts *TypeSet) Count() int {
	return len(ts.names)
}

//TypeIndex will return the index for a label, or UnknownType for an empty
//label, the "?" placeholder, or a label that is not in the set
func (ts *TypeSet) TypeIndex(label string) int {
	if label == "" || label == "?" {
		return UnknownType
	}
	if i, ok := ts.index[label]; ok {
		return i
	}
	return UnknownType
}

//TypeName will return the label for an index
func (ts *TypeSet) TypeName(i int) string {
	if i < 0 || i >= len(ts.names) {
		return "?"
	}
	return ts.names[i]
}
