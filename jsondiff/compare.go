package jsondiff

// Options bundles differencer and classifier settings.
type Options struct {
	Mode        Mode `json:"mode" yaml:"mode"`
	ItemDepth   int  `json:"item_depth" yaml:"item_depth"`
	DetectMoves bool `json:"detect_moves" yaml:"detect_moves"`
}

// Compare diffs old against new and classifies the result.
func Compare(old, new Value, opts Options) ([]Change, ChangeSet) {
	var dopts []DiffOption
	if opts.DetectMoves {
		dopts = append(dopts, WithMoveDetection())
	}
	changes := Diff(old, new, dopts...)
	cs := Classify(old, new, changes, ClassifyOptions{Mode: opts.Mode, ItemDepth: opts.ItemDepth})
	return changes, cs
}
