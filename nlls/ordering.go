package nlls

import (
	"slices"

	"github.com/pkg/errors"
)

// ParameterBlockOrdering assigns parameter blocks to elimination groups. Lower groups are
// eliminated first by the Schur complement solver.
type ParameterBlockOrdering struct {
	groups map[*float64]int
}

// NewParameterBlockOrdering returns an empty ordering.
func NewParameterBlockOrdering() *ParameterBlockOrdering {
	return &ParameterBlockOrdering{groups: map[*float64]int{}}
}

// AddElementToGroup puts block in group, moving it if it already had one.
func (o *ParameterBlockOrdering) AddElementToGroup(block []float64, group int) error {
	if len(block) == 0 {
		return errors.New("parameter block must not be empty")
	}
	if group < 0 {
		return errors.Errorf("group must be non-negative, got %d", group)
	}
	o.groups[&block[0]] = group
	return nil
}

// GroupID returns the group of block.
func (o *ParameterBlockOrdering) GroupID(block []float64) (int, bool) {
	if len(block) == 0 {
		return 0, false
	}
	g, ok := o.groups[&block[0]]
	return g, ok
}

// NumElements returns the number of blocks with a group.
func (o *ParameterBlockOrdering) NumElements() int {
	return len(o.groups)
}

// NumGroups returns the number of distinct groups.
func (o *ParameterBlockOrdering) NumGroups() int {
	return len(o.groupIDs())
}

func (o *ParameterBlockOrdering) groupIDs() []int {
	seen := map[int]struct{}{}
	var ids []int
	for _, g := range o.groups {
		if _, ok := seen[g]; !ok {
			seen[g] = struct{}{}
			ids = append(ids, g)
		}
	}
	slices.Sort(ids)
	return ids
}

func (o *ParameterBlockOrdering) group(pb *parameterBlock) (int, bool) {
	g, ok := o.groups[&pb.data[0]]
	return g, ok
}
