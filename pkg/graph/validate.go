package graph

import (
	"fmt"

	"github.com/miott/specrun/pkg/data"
	"github.com/miott/specrun/pkg/spec"
	"github.com/miott/specrun/pkg/util"
)

// actionValidation declares what each action kind requires. The builder runs
// the table for every action before expanding it, so malformed actions fail
// fast with the action named, not deep into execution.
type actionValidation struct {
	needsDevice  bool
	needsContent bool
	operations   []string            // allowed operation values, empty = no operation field
	contentType  spec.EntryType      // required terminal payload type for content
	custom       func(u *Unit, a *spec.Action) error
}

var actionValidations = map[spec.ActionKind]actionValidation{
	spec.KindCLI: {
		needsDevice:  true,
		needsContent: true,
		operations:   []string{spec.OpConfigure, spec.OpExecute},
		contentType:  spec.TypeString,
	},
	spec.KindYang: {
		needsDevice:  true,
		needsContent: true,
		operations:   []string{spec.OpEditCfg, spec.OpGetCfg, spec.OpGet},
		contentType:  spec.TypeXPath,
		custom: func(u *Unit, a *spec.Action) error {
			if a.Protocol != "netconf" {
				return fmt.Errorf("protocol %q is not supported (netconf only)", a.Protocol)
			}
			return nil
		},
	},
	spec.KindSleep: {
		custom: func(u *Unit, a *spec.Action) error {
			if a.Time <= 0 {
				return fmt.Errorf("time must be positive, got %g", a.Time)
			}
			return nil
		},
	},
	spec.KindTimestamp: {
		custom: func(u *Unit, a *spec.Action) error {
			if a.Category != spec.CategoryStart && a.Category != spec.CategoryEnd {
				return fmt.Errorf("category must be start or end, got %q", a.Category)
			}
			if a.Storage == "" {
				return fmt.Errorf("storage is required")
			}
			if a.Precision < 0 {
				return fmt.Errorf("precision must not be negative")
			}
			return nil
		},
	},
	spec.KindRepeat: {
		custom: func(u *Unit, a *spec.Action) error {
			if a.Count < 0 {
				return fmt.Errorf("count must not be negative, got %d", a.Count)
			}
			if len(a.Subset) == 0 {
				return fmt.Errorf("test_actions subset is required")
			}
			return nil
		},
	},
	spec.KindCombine: {
		custom: func(u *Unit, a *spec.Action) error {
			if len(a.Tests) == 0 {
				return fmt.Errorf("tests list is required")
			}
			return nil
		},
	},
	spec.KindParallel: {
		custom: func(u *Unit, a *spec.Action) error {
			if len(a.Tests) == 0 {
				return fmt.Errorf("tests list is required")
			}
			return nil
		},
	},
}

// validateAction checks the action at pos against its kind's requirements
// and its data links against u's store.
func validateAction(u *Unit, pos int, a *spec.Action) error {
	v, ok := actionValidations[a.Kind]
	if !ok {
		return util.NewSpecError(u.Spec.Name, pos, a.ActionID, "unknown action kind %q", a.Kind)
	}

	fail := func(format string, args ...interface{}) error {
		return util.NewSpecError(u.Spec.Name, pos, a.ActionID, format, args...)
	}

	if len(v.operations) > 0 {
		found := false
		for _, op := range v.operations {
			if a.Operation == op {
				found = true
				break
			}
		}
		if !found {
			return fail("operation %q is not valid for %s (want one of %v)", a.Operation, a.Kind, v.operations)
		}
	}

	if v.needsDevice {
		if a.Device == "" {
			return fail("device is required")
		}
		if !hasDevice(u.Spec, a.Device) {
			return fail("device %q is not in the spec's device list %v", a.Device, u.Spec.Devices)
		}
	}

	if v.needsContent {
		if a.Content == "" {
			return fail("content is required")
		}
		typ, err := u.Store.Check(a.Content, data.SourceContent)
		if err != nil {
			return fail("content: %v", err)
		}
		if v.contentType != "" && typ != v.contentType {
			return fail("content resolves to %s entry, %s action needs %s", typ, a.Kind, v.contentType)
		}
	}

	if a.HasReturns() && a.Returns != spec.RPCOK {
		typ, err := u.Store.Check(a.Returns, data.SourceReturns)
		if err != nil {
			return fail("returns: %v", err)
		}
		if a.Kind == spec.KindCLI && typ != spec.TypeString {
			return fail("returns resolves to %s entry, cli verification needs string", typ)
		}
	}
	if a.Returns == spec.RPCOK && a.Kind != spec.KindYang {
		return fail("returns rpc-ok is only valid for yang actions")
	}

	if v.custom != nil {
		if err := v.custom(u, a); err != nil {
			return fail("%v", err)
		}
	}
	return nil
}

func hasDevice(ts *spec.TestSpec, device string) bool {
	for _, d := range ts.Devices {
		if d == device {
			return true
		}
	}
	return false
}
