package reconciler

import (
	"github.com/looplab/fsm"

	"github.com/balaji-balu/converge/pkg/model"
)

// Record lifecycle events. The machine is the single place that knows which
// transitions are legal; the reconciler mirrors the machine state back onto
// the record after every event.
const (
	evProvision   = "provision"
	evProvisioned = "provisioned"
	evChange      = "change"
	evChanged     = "changed"
	evDestroy     = "destroy"
	evDestroyed   = "destroyed"
	evFail        = "fail"
)

func newRecordFSM(current model.ResourceStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: evProvision, Src: []string{string(model.StatusPending)}, Dst: string(model.StatusCreating)},
			{Name: evProvisioned, Src: []string{string(model.StatusCreating)}, Dst: string(model.StatusReady)},
			{Name: evChange, Src: []string{string(model.StatusReady)}, Dst: string(model.StatusUpdating)},
			{Name: evChanged, Src: []string{string(model.StatusUpdating)}, Dst: string(model.StatusReady)},
			{Name: evDestroy, Src: []string{
				string(model.StatusPending),
				string(model.StatusCreating),
				string(model.StatusReady),
				string(model.StatusUpdating),
				string(model.StatusFailed),
			}, Dst: string(model.StatusDestroying)},
			{Name: evDestroyed, Src: []string{string(model.StatusDestroying)}, Dst: string(model.StatusDestroyed)},
			{Name: evFail, Src: []string{
				string(model.StatusCreating),
				string(model.StatusUpdating),
				string(model.StatusDestroying),
			}, Dst: string(model.StatusFailed)},
		},
		fsm.Callbacks{},
	)
}
