package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/boyangli/homesense/action"
	"github.com/boyangli/homesense/ingestion"
	"github.com/boyangli/homesense/journal"
	"github.com/boyangli/homesense/metrics"
	"github.com/boyangli/homesense/models"
)

// Skip is a row that produced no record, with the reason
type Skip struct {
	Line     int    `json:"line"`
	SensorID string `json:"sensor_id,omitempty"`
	Reason   string `json:"reason"`
}

// Report summarises a session run
type Report struct {
	SessionID      string               `json:"session_id"`
	Pipeline       string               `json:"pipeline"`
	Processed      int                  `json:"processed"`
	Skipped        int                  `json:"skipped"`
	Skips          []Skip               `json:"skips,omitempty"`
	Labels         map[models.Label]int `json:"labels"`
	ActionsInvoked int                  `json:"actions_invoked"`
	ActionFailures int                  `json:"action_failures"`
}

// Session evaluates readings one at a time: classify, dispatch the
// outcome's actions, then append exactly one record to the journal. The
// journal belongs to the caller; the session only appends.
type Session struct {
	ID string

	evaluator  Evaluator
	dispatcher *action.Dispatcher
	journal    journal.Sink
	metrics    *metrics.Collector
	log        *slog.Logger
	now        func() time.Time

	report Report
}

// NewSession wires a session. The collector may be nil.
func NewSession(ev Evaluator, d *action.Dispatcher, j journal.Sink, m *metrics.Collector, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		ID:         id,
		evaluator:  ev,
		dispatcher: d,
		journal:    j,
		metrics:    m,
		log:        logger.With("session", id, "pipeline", ev.Name()),
		now:        time.Now,
		report: Report{
			SessionID: id,
			Pipeline:  ev.Name(),
			Labels:    make(map[models.Label]int),
		},
	}
}

// Run consumes rows until the channel is closed or ctx is done. A journal
// failure stops the run; everything else is per row.
func (s *Session) Run(ctx context.Context, rows <-chan ingestion.Row) (Report, error) {
	for {
		select {
		case <-ctx.Done():
			return s.Report(), ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return s.Report(), nil
			}
			if err := s.Handle(ctx, row); err != nil {
				return s.Report(), err
			}
		}
	}
}

// Handle processes one row
func (s *Session) Handle(ctx context.Context, row ingestion.Row) error {
	if row.Err != nil {
		s.skip(row, row.Err)
		return nil
	}
	if row.Reading == nil {
		s.skip(row, errors.New("empty row"))
		return nil
	}
	r := *row.Reading

	eval, err := s.evaluator.Evaluate(r)
	if err != nil {
		s.skip(row, err)
		return nil
	}
	s.log.Info("reading classified", "line", row.Line, "sensor", r.SensorID, "label", eval.Outcome.Label, "remark", eval.Outcome.Remark)

	target := action.Target{SensorID: r.SensorID, Location: r.Location, Reason: eval.Outcome.Remark}
	invoked, err := s.dispatcher.Dispatch(ctx, target, eval.Outcome)
	if err != nil {
		failed := len(eval.Outcome.Actions) - len(invoked)
		s.report.ActionFailures += failed
		s.log.Warn("some actions failed", "line", row.Line, "sensor", r.SensorID, "failed", failed, "error", err)
	}
	s.report.ActionsInvoked += len(invoked)

	rec := models.Record{
		RecordID:  uuid.New().String(),
		Pipeline:  s.evaluator.Name(),
		LoggedAt:  s.now().UTC(),
		Timestamp: r.Timestamp,
		SensorID:  r.SensorID,
		Location:  r.Location,
		Values:    eval.Values,
		Label:     eval.Outcome.Label,
		Remark:    eval.Outcome.Remark,
		Actions:   invoked,
	}
	if err := s.journal.Append(rec); err != nil {
		return fmt.Errorf("journal append for line %d: %w", row.Line, err)
	}

	s.report.Processed++
	s.report.Labels[eval.Outcome.Label]++
	s.metrics.Classified(s.evaluator.Name(), string(eval.Outcome.Label))
	return nil
}

func (s *Session) skip(row ingestion.Row, err error) {
	sk := Skip{Line: row.Line, Reason: err.Error()}
	if row.Reading != nil {
		sk.SensorID = row.Reading.SensorID
	}
	s.report.Skipped++
	s.report.Skips = append(s.report.Skips, sk)
	s.metrics.Skipped(s.evaluator.Name(), skipKind(err))
	s.log.Warn("⚠️  reading skipped", "line", row.Line, "sensor", sk.SensorID, "reason", sk.Reason)
}

// skipKind is a low-cardinality label for the skipped counter
func skipKind(err error) string {
	var ire *models.InvalidReadingError
	if errors.As(err, &ire) {
		return ire.Field
	}
	return "malformed_row"
}

// Report returns a copy of the running totals
func (s *Session) Report() Report {
	out := s.report
	out.Skips = append([]Skip(nil), s.report.Skips...)
	out.Labels = make(map[models.Label]int, len(s.report.Labels))
	for k, v := range s.report.Labels {
		out.Labels[k] = v
	}
	return out
}
