package engine

// runContext carries the state one branch reads and writes while executing:
// the variable bindings (fixed before the run starts) and the outputs
// recorded per action_id. Each parallel branch gets its own copy, merged
// back when the branch completes.
type runContext struct {
	vars    map[string]string
	outputs map[int][]string
}

func newRunContext(vars map[string]string) *runContext {
	return &runContext{
		vars:    vars,
		outputs: make(map[int][]string),
	}
}

// record appends an action's output under its action_id. Appending, never
// replacing, keeps every iteration of a repeat visible.
func (c *runContext) record(actionID int, output string) {
	c.outputs[actionID] = append(c.outputs[actionID], output)
}

// child snapshots the context for a parallel branch. The branch sees
// everything recorded so far but writes only to its own copy.
func (c *runContext) child() *runContext {
	nc := newRunContext(c.vars)
	for id, outs := range c.outputs {
		nc.outputs[id] = append([]string(nil), outs...)
	}
	return nc
}

// merge folds a completed branch's outputs into the parent. An action_id the
// parent already holds keeps the parent's entries untouched.
func (c *runContext) merge(child *runContext) {
	for id, outs := range child.outputs {
		if _, exists := c.outputs[id]; exists {
			continue
		}
		c.outputs[id] = outs
	}
}
