package action

import (
	"fmt"

	"github.com/boyangli/homesense/models"
)

// Device actions
const (
	OpenDoor               models.ActionID = "open-door"
	CloseDoor              models.ActionID = "close-door"
	AdjustDoor             models.ActionID = "adjust-door"
	AdjustWindow           models.ActionID = "adjust-window"
	ControlHeating         models.ActionID = "control-heating"
	SendCommunicationAlert models.ActionID = "send-communication-alert"
	ActivateRobot          models.ActionID = "activate-robot"
	ActivateRobotCO2Check  models.ActionID = "activate-robot-co2-check"
	VentilationFanOn       models.ActionID = "ventilation-fan-on"
)

var known = map[models.ActionID]bool{
	OpenDoor:               true,
	CloseDoor:              true,
	AdjustDoor:             true,
	AdjustWindow:           true,
	ControlHeating:         true,
	SendCommunicationAlert: true,
	ActivateRobot:          true,
	ActivateRobotCO2Check:  true,
	VentilationFanOn:       true,
}

// Known reports whether id names a supported action
func Known(id models.ActionID) bool { return known[id] }

// Plan maps a band label to the ordered actions it triggers. Labels absent
// from the plan trigger nothing.
type Plan map[models.Label][]models.ActionID

// For returns a copy of the action sequence for a label
func (p Plan) For(label models.Label) []models.ActionID {
	seq := p[label]
	if len(seq) == 0 {
		return nil
	}
	return append([]models.ActionID(nil), seq...)
}

// TemperaturePlan is used by the static band pipelines
func TemperaturePlan() Plan {
	return Plan{
		models.LabelLow:  {CloseDoor, ControlHeating, ActivateRobot},
		models.LabelHigh: {OpenDoor, ControlHeating, SendCommunicationAlert, AdjustWindow},
	}
}

// CalibratedPlan is used when a body reading leaves its reference window
func CalibratedPlan() Plan {
	return Plan{
		models.LabelOutOfRange: {SendCommunicationAlert, ControlHeating, ActivateRobot},
	}
}

// CO2Plan escalates ventilation with the CO2 tier
func CO2Plan() Plan {
	return Plan{
		models.LabelElevated: {VentilationFanOn, AdjustDoor, AdjustWindow},
		models.LabelCritical: {VentilationFanOn, ActivateRobotCO2Check, AdjustDoor, AdjustWindow},
	}
}

// Override returns a copy of p with the labels in raw replaced. Unknown
// action names are rejected.
func (p Plan) Override(raw map[string][]string) (Plan, error) {
	out := make(Plan, len(p)+len(raw))
	for label, seq := range p {
		out[label] = append([]models.ActionID(nil), seq...)
	}
	for label, names := range raw {
		seq := make([]models.ActionID, 0, len(names))
		for _, name := range names {
			id := models.ActionID(name)
			if !Known(id) {
				return nil, fmt.Errorf("plan for %s: unknown action %q", label, name)
			}
			seq = append(seq, id)
		}
		out[models.Label(label)] = seq
	}
	return out, nil
}
