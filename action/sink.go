package action

import (
	"context"
	"errors"
	"log/slog"

	"github.com/boyangli/homesense/models"
)

// Target identifies where an action is carried out
type Target struct {
	SensorID string
	Location string
	Reason   string
}

// Sink is the set of device capabilities the dispatcher drives. Each call
// is fire-and-forget; only the error is consumed.
type Sink interface {
	OpenDoor(ctx context.Context, t Target) error
	CloseDoor(ctx context.Context, t Target) error
	AdjustDoor(ctx context.Context, t Target) error
	AdjustWindow(ctx context.Context, t Target) error
	ControlHeating(ctx context.Context, t Target) error
	SendCommunicationAlert(ctx context.Context, t Target) error
	ActivateRobot(ctx context.Context, t Target) error
	ActivateRobotCO2Check(ctx context.Context, t Target) error
	VentilationFanOn(ctx context.Context, t Target) error
}

// invoke routes an action id to the matching Sink method
func invoke(ctx context.Context, s Sink, id models.ActionID, t Target) error {
	switch id {
	case OpenDoor:
		return s.OpenDoor(ctx, t)
	case CloseDoor:
		return s.CloseDoor(ctx, t)
	case AdjustDoor:
		return s.AdjustDoor(ctx, t)
	case AdjustWindow:
		return s.AdjustWindow(ctx, t)
	case ControlHeating:
		return s.ControlHeating(ctx, t)
	case SendCommunicationAlert:
		return s.SendCommunicationAlert(ctx, t)
	case ActivateRobot:
		return s.ActivateRobot(ctx, t)
	case ActivateRobotCO2Check:
		return s.ActivateRobotCO2Check(ctx, t)
	case VentilationFanOn:
		return s.VentilationFanOn(ctx, t)
	}
	return errUnknownAction
}

var errUnknownAction = errors.New("unknown action")

// LogSink only logs each action. Used for dry runs and when no broker is
// configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that writes one log line per action
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{log: logger}
}

func (s *LogSink) record(action string, t Target) error {
	s.log.Info("device action", "action", action, "sensor", t.SensorID, "location", t.Location, "reason", t.Reason)
	return nil
}

// OpenDoor opens the door at the target
func (s *LogSink) OpenDoor(_ context.Context, t Target) error { return s.record("door open", t) }

// CloseDoor closes the door at the target
func (s *LogSink) CloseDoor(_ context.Context, t Target) error { return s.record("door close", t) }

// AdjustDoor sets the door at the target part open
func (s *LogSink) AdjustDoor(_ context.Context, t Target) error { return s.record("door adjust", t) }

// AdjustWindow adjusts the window at the target
func (s *LogSink) AdjustWindow(_ context.Context, t Target) error {
	return s.record("window adjust", t)
}

// ControlHeating adjusts heating at the target
func (s *LogSink) ControlHeating(_ context.Context, t Target) error {
	return s.record("heating control", t)
}

// SendCommunicationAlert notifies the care contact for the target
func (s *LogSink) SendCommunicationAlert(_ context.Context, t Target) error {
	return s.record("communication alert", t)
}

// ActivateRobot dispatches the robot to the target
func (s *LogSink) ActivateRobot(_ context.Context, t Target) error {
	return s.record("robot dispatch", t)
}

// ActivateRobotCO2Check dispatches the robot for a CO2 check
func (s *LogSink) ActivateRobotCO2Check(_ context.Context, t Target) error {
	return s.record("robot co2 check", t)
}

// VentilationFanOn switches on the ventilation fan at the target
func (s *LogSink) VentilationFanOn(_ context.Context, t Target) error {
	return s.record("ventilation fan on", t)
}

// MultiSink forwards every action to all sinks and joins their errors
type MultiSink []Sink

func (m MultiSink) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenDoor opens the door at the target
func (m MultiSink) OpenDoor(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.OpenDoor(ctx, t) })
}

// CloseDoor closes the door at the target
func (m MultiSink) CloseDoor(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.CloseDoor(ctx, t) })
}

// AdjustDoor sets the door at the target part open
func (m MultiSink) AdjustDoor(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.AdjustDoor(ctx, t) })
}

// AdjustWindow adjusts the window at the target
func (m MultiSink) AdjustWindow(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.AdjustWindow(ctx, t) })
}

// ControlHeating adjusts heating at the target
func (m MultiSink) ControlHeating(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.ControlHeating(ctx, t) })
}

// SendCommunicationAlert notifies the care contact for the target
func (m MultiSink) SendCommunicationAlert(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.SendCommunicationAlert(ctx, t) })
}

// ActivateRobot dispatches the robot to the target
func (m MultiSink) ActivateRobot(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.ActivateRobot(ctx, t) })
}

// ActivateRobotCO2Check dispatches the robot for a CO2 check
func (m MultiSink) ActivateRobotCO2Check(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.ActivateRobotCO2Check(ctx, t) })
}

// VentilationFanOn switches on the ventilation fan at the target
func (m MultiSink) VentilationFanOn(ctx context.Context, t Target) error {
	return m.each(func(s Sink) error { return s.VentilationFanOn(ctx, t) })
}
