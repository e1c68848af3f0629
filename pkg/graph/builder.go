package graph

import (
	"fmt"

	"github.com/miott/specrun/pkg/data"
	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/util"
)

// Builder turns parsed TestSpecs into executable trees. One builder may build
// several trees; loaded units are shared across builds.
type Builder struct {
	loader *spec.Loader

	units    map[string]*Unit
	building map[string]bool // subset expansion in progress, by unit key + position
}

// NewBuilder creates a builder reading cross-file references through loader.
func NewBuilder(loader *spec.Loader) *Builder {
	return &Builder{
		loader:   loader,
		units:    make(map[string]*Unit),
		building: make(map[string]bool),
	}
}

// Build validates ts and expands it into an executable tree. All validation
// failures surface here, before any device interaction.
func (b *Builder) Build(ts *spec.TestSpec) (*Tree, error) {
	unit := b.unitFor(ts)

	if err := b.checkFileDAG(unit); err != nil {
		return nil, err
	}

	root := &Node{Kind: NodeSequence, Label: ts.Name}
	for i := range ts.Actions {
		child, err := b.buildNode(unit, i)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}

	tree := &Tree{
		Root:      root,
		Unit:      unit,
		Units:     make(map[string]*Unit, len(b.units)),
		Variables: unit.Store.Variables(),
	}
	for k, u := range b.units {
		tree.Units[k] = u
	}
	return tree, nil
}

// Validate checks every action of ts, collecting all per-action failures
// instead of stopping at the first. When the actions are individually sound,
// the full build runs so structural problems (subset targets, cross-file
// cycles) surface too.
func (b *Builder) Validate(ts *spec.TestSpec) error {
	unit := b.unitFor(ts)

	v := &util.ValidationBuilder{}
	for i := range ts.Actions {
		if err := validateAction(unit, i, &ts.Actions[i]); err != nil {
			v.AddError(err.Error())
		}
	}
	if v.HasErrors() {
		return v.Build()
	}

	_, err := b.Build(ts)
	return err
}

// unitFor returns the cached unit for ts, creating it with the cross-file
// data hook installed.
func (b *Builder) unitFor(ts *spec.TestSpec) *Unit {
	key := fmt.Sprintf("%s#%d", ts.File, ts.TestID)
	if u, ok := b.units[key]; ok {
		return u
	}
	store := data.NewStore(ts)
	store.SetForeign(func(fromFile, fileName string, testID int) (*data.Store, error) {
		target, err := b.resolveUnit(fromFile, fileName, testID)
		if err != nil {
			return nil, err
		}
		return target.Store, nil
	})
	u := &Unit{Spec: ts, Store: store}
	b.units[key] = u
	return u
}

// resolveUnit finds the unit a cross-file reference names. fileName resolves
// relative to fromFile; testID zero picks the file's only (or first) spec.
func (b *Builder) resolveUnit(fromFile, fileName string, testID int) (*Unit, error) {
	specs, err := b.loader.LoadRef(fromFile, fileName)
	if err != nil {
		return nil, err
	}
	var ts *spec.TestSpec
	if testID != 0 {
		ts, err = spec.FindByID(specs, testID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
	} else {
		ts = specs[0]
	}
	return b.unitFor(ts), nil
}

// buildNode expands the action at pos in u's spec into a tree node.
func (b *Builder) buildNode(u *Unit, pos int) (*Node, error) {
	a := &u.Spec.Actions[pos]

	if err := validateAction(u, pos, a); err != nil {
		return nil, err
	}

	switch a.Kind {
	case spec.KindCLI, spec.KindYang, spec.KindSleep, spec.KindTimestamp:
		return &Node{
			Kind:     NodeAction,
			Label:    leafLabel(a),
			Action:   a,
			Unit:     u,
			Position: pos,
		}, nil

	case spec.KindRepeat:
		return b.buildRepeat(u, pos, a)

	case spec.KindCombine:
		return b.buildCombine(u, pos, a)

	case spec.KindParallel:
		return b.buildParallel(u, pos, a)

	default:
		return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "unknown action kind %q", a.Kind)
	}
}

// guard marks a container action as being expanded, so a subset that reaches
// back into it fails instead of recursing forever.
func (b *Builder) guard(u *Unit, pos int, a *spec.Action) (release func(), err error) {
	key := fmt.Sprintf("%s:%d", u.Key(), pos)
	if b.building[key] {
		return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "circular subset reference")
	}
	b.building[key] = true
	return func() { delete(b.building, key) }, nil
}

func (b *Builder) buildRepeat(u *Unit, pos int, a *spec.Action) (*Node, error) {
	release, err := b.guard(u, pos, a)
	if err != nil {
		return nil, err
	}
	defer release()

	target := u
	if a.FileName != "" || (a.TestID != 0 && a.TestID != u.Spec.TestID) {
		fileName := a.FileName
		if fileName == "" {
			fileName = u.Spec.File
		}
		target, err = b.resolveUnit(u.Spec.File, fileName, a.TestID)
		if err != nil {
			return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "repeat target: %v", err)
		}
	}

	body, err := b.buildSubset(target, a.Subset)
	if err != nil {
		return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "repeat subset: %v", err)
	}
	body.Label = fmt.Sprintf("repeat body (%s)", target.Spec.Name)

	return &Node{
		Kind:     NodeRepeat,
		Label:    fmt.Sprintf("repeat x%d", a.Count),
		Count:    a.Count,
		Children: []*Node{body},
	}, nil
}

func (b *Builder) buildCombine(u *Unit, pos int, a *spec.Action) (*Node, error) {
	release, err := b.guard(u, pos, a)
	if err != nil {
		return nil, err
	}
	defer release()

	node := &Node{Kind: NodeSequence, Label: "combine"}
	for i := range a.Tests {
		seq, err := b.buildSubsetRef(u, &a.Tests[i])
		if err != nil {
			return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "combine entry %d: %v", i, err)
		}
		node.Children = append(node.Children, seq)
	}
	return node, nil
}

func (b *Builder) buildParallel(u *Unit, pos int, a *spec.Action) (*Node, error) {
	release, err := b.guard(u, pos, a)
	if err != nil {
		return nil, err
	}
	defer release()

	node := &Node{Kind: NodeParallel, Label: "parallel"}
	for i := range a.Tests {
		branch, err := b.buildSubsetRef(u, &a.Tests[i])
		if err != nil {
			return nil, util.NewSpecError(u.Spec.Name, pos, a.ActionID, "parallel branch %d: %v", i, err)
		}
		branch.Label = fmt.Sprintf("branch %d", i+1)
		node.Children = append(node.Children, branch)
	}
	return node, nil
}

// buildSubsetRef expands one tests entry of a combine or parallel action.
func (b *Builder) buildSubsetRef(u *Unit, ref *spec.SubsetRef) (*Node, error) {
	target := u
	if ref.FileName != "" || (ref.ID != 0 && ref.ID != u.Spec.TestID) {
		fileName := ref.FileName
		if fileName == "" {
			fileName = u.Spec.File
		}
		var err error
		target, err = b.resolveUnit(u.Spec.File, fileName, ref.ID)
		if err != nil {
			return nil, err
		}
	}
	seq, err := b.buildSubset(target, ref.Subset)
	if err != nil {
		return nil, err
	}
	seq.Label = target.Spec.Name
	return seq, nil
}

// buildSubset resolves a list of action ids against target's action sequence.
// Ids bind to the first matching position; action_id is a non-unique label,
// so later duplicates are unreachable from subsets.
func (b *Builder) buildSubset(target *Unit, ids []int) (*Node, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("empty action subset")
	}

	seq := &Node{Kind: NodeSequence}
	for _, id := range ids {
		pos := firstPosition(target.Spec, id)
		if pos < 0 {
			return nil, fmt.Errorf("no action with action_id %d in test %q", id, target.Spec.Name)
		}
		child, err := b.buildNode(target, pos)
		if err != nil {
			return nil, err
		}
		seq.Children = append(seq.Children, child)
	}
	return seq, nil
}

// firstPosition finds the earliest action with the given id, -1 when absent.
func firstPosition(ts *spec.TestSpec, id int) int {
	for i := range ts.Actions {
		if ts.Actions[i].ActionID == id {
			return i
		}
	}
	return -1
}

// checkFileDAG loads every file reachable from u through cross-file
// references (data entries and subset targets) and rejects cycles among
// files. Loading happens here, once, so execution never reads a file.
func (b *Builder) checkFileDAG(u *Unit) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)

	var visit func(file string, trail []string) error
	visit = func(file string, trail []string) error {
		if file == "" {
			return nil
		}
		switch state[file] {
		case done:
			return nil
		case visiting:
			cycle := append(trail, file)
			return util.NewSpecFileError(u.Spec.Name, "cross-file reference cycle: %v", cycle)
		}
		state[file] = visiting
		trail = append(trail, file)

		specs, err := b.loader.LoadFile(file)
		if err != nil {
			return err
		}
		for _, ts := range specs {
			for _, ref := range fileRefs(ts) {
				next, err := b.loader.LoadRef(file, ref)
				if err != nil {
					return util.NewSpecFileError(ts.Name, "cross-file reference %q: %v", ref, err)
				}
				if err := visit(next[0].File, trail); err != nil {
					return err
				}
			}
		}
		state[file] = done
		return nil
	}

	return visit(u.Spec.File, nil)
}

// fileRefs collects the file names a spec references: data reference entries
// and repeat/combine/parallel subset targets.
func fileRefs(ts *spec.TestSpec) []string {
	var refs []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			refs = append(refs, name)
		}
	}

	if ts.Data != nil {
		for _, entry := range ts.Data.Entries {
			if entry.Type == spec.TypeReference {
				add(entry.RefFile)
			}
		}
	}
	for i := range ts.Actions {
		a := &ts.Actions[i]
		add(a.FileName)
		for _, ref := range a.Tests {
			add(ref.FileName)
		}
	}
	return refs
}
