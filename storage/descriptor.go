package storage

import "github.com/tdb-core/tdb/xerrors"

// Mode selects whether open_array/open_fragment attach to an existing
// fragment for reading or initialize a new one for writing (spec §4.8).
type Mode uint8

const (
	Read Mode = iota
	Create
)

// ArrayDescriptor is a borrow-checked handle to an open array: its
// directory name (the manager's registry key) plus a generation id, so that a
// descriptor outliving a close (or surviving a slot reuse) is rejected
// instead of silently aliasing a different array (spec §9: "handles...
// returned by value" carrying a generation counter).
type ArrayDescriptor struct {
	name       string
	generation uint64
}

// FragmentDescriptor is the equivalent handle for one open fragment
// within an array.
type FragmentDescriptor struct {
	arrayName    string
	fragmentName string
	generation   uint64
}

func (fd FragmentDescriptor) key() string { return fd.arrayName + "/" + fd.fragmentName }

// errStaleDescriptor builds the InvalidDescriptor failure used whenever
// a generation check fails (spec §4.8's failure model).
func errStaleDescriptor(op string) error {
	return xerrors.E(op, xerrors.InvalidDescriptor, "descriptor is stale or refers to a closed handle")
}
