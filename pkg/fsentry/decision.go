package fsentry

// what the walker does with one candidate path
type Decision int

const (
	Include        Decision = iota // yield, and descend if directory
	ExcludeEntry                   // don't yield, but still descend if directory
	ExcludeSubtree                 // don't yield, don't list, don't descend
	// like Include, but for a symlink pointing to a directory also descend into the target.
	// same as Include for everything else.
	IncludeFollowSymlink
)

func (d Decision) String() string {
	switch d {
	case Include:
		return "include"
	case ExcludeEntry:
		return "exclude-entry"
	case ExcludeSubtree:
		return "exclude-subtree"
	case IncludeFollowSymlink:
		return "include-follow-symlink"
	default:
		return "unknown"
	}
}

// external inclusion policy. path is in real path space. kind is a hint from the listing
// and may be stale by the time the entry is read.
type Predicate func(path string, kind Kind) Decision

func IncludeAll(string, Kind) Decision {
	return Include
}
