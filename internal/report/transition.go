package report

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/linnemanlabs/grievance/internal/report"

// TransitionInput is the request for ApplyTransition.
type TransitionInput struct {
	ReportID   string `json:"-"`
	StatusCode string `json:"status_code"`
	Comment    string `json:"comment,omitempty"`
}

// ApplyTransition moves a report to the status named by in.StatusCode. The
// move must be in the transition table and satisfy the rule's comment and
// action requirements. A report in the initial status only leaves it through
// ApplyFilterDecision. The status update and its history row are committed
// together; a concurrent change to the same report fails with ErrConflict.
func (s *Service) ApplyTransition(ctx context.Context, actor Actor, in TransitionInput) (*Report, error) {
	if strings.TrimSpace(in.StatusCode) == "" {
		return nil, Errorf(KindValidation, "status_code is required")
	}
	r, err := s.loadAuthorized(ctx, actor, OpTransition, in.ReportID)
	if err != nil {
		return nil, err
	}

	cat := s.Catalog()
	from, _ := cat.StatusByID(r.StatusID)
	target, ok := cat.StatusByCode(in.StatusCode)
	if !ok {
		err := Errorf(KindNotFound, "unknown status %q", in.StatusCode)
		s.observeTransition(from.Code, in.StatusCode, err)
		return nil, err
	}
	if r.StatusID == cat.Initial().ID {
		err := Errorf(KindInvalidTransition, "report %s needs a filter decision before leaving %s", r.ID, from.Code)
		s.observeTransition(from.Code, target.Code, err)
		return nil, err
	}

	updated, err := s.transition(ctx, actor, cat, r, target, in.Comment, nil, false)
	s.observeTransition(from.Code, target.Code, err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// transition validates r's move to target against cat and commits it. It is
// shared by ApplyTransition and ApplyFilterDecision.
func (s *Service) transition(ctx context.Context, actor Actor, cat *Catalog, r *Report, target StatusDefinition, comment string, decision *FilterDecision, markSpam bool) (*Report, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "report.transition", trace.WithAttributes(
		attribute.String("report.id", r.ID),
		attribute.Int("report.from_status_id", r.StatusID),
		attribute.String("report.to_status", target.Code),
		attribute.Bool("report.filter_decision", decision != nil),
	))
	defer span.End()

	updated, err := s.commitTransition(ctx, actor, cat, r, target, comment, decision, markSpam)
	if err != nil {
		if kind := KindOf(err); kind != "" {
			span.SetAttributes(attribute.String("report.error_kind", string(kind)))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return updated, err
}

func (s *Service) commitTransition(ctx context.Context, actor Actor, cat *Catalog, r *Report, target StatusDefinition, comment string, decision *FilterDecision, markSpam bool) (*Report, error) {
	from, ok := cat.StatusByID(r.StatusID)
	if !ok {
		return nil, Errorf(KindInvalidTransition, "report %s is in unknown status %d", r.ID, r.StatusID)
	}
	rule, ok := cat.Rule(from.ID, target.ID)
	if !ok {
		return nil, Errorf(KindInvalidTransition, "%s -> %s is not allowed", from.Code, target.Code)
	}

	comment = strings.TrimSpace(comment)
	if rule.RequiresComment && comment == "" {
		return nil, Errorf(KindMissingComment, "%s -> %s requires a comment", from.Code, target.Code)
	}
	if rule.RequiresAction {
		actions, err := s.store.ListActions(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if len(actions) == 0 {
			return nil, Errorf(KindMissingAction, "%s -> %s requires at least one action", from.Code, target.Code)
		}
	}

	now := s.now()
	entry := StatusHistoryEntry{
		ID:        ulid.Make().String(),
		ReportID:  r.ID,
		StatusID:  target.ID,
		ChangedBy: actor.ID,
		ChangedAt: now,
	}
	if comment != "" {
		entry.Comment = &comment
	}

	updated, err := s.store.CommitTransition(ctx, &TransitionCommit{
		ReportID:         r.ID,
		ExpectedStatusID: from.ID,
		TargetStatusID:   target.ID,
		RequireAction:    rule.RequiresAction,
		History:          entry,
		Filter:           decision,
		MarkSpam:         markSpam,
		At:               now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "status changed",
		"report_id", r.ID,
		"from", from.Code,
		"to", target.Code,
		"actor", actor.ID,
		"history_id", entry.ID,
	)

	ev := &Event{
		Report:     updated,
		FromStatus: from,
		ToStatus:   target,
		Comment:    comment,
		ActorID:    actor.ID,
	}
	if decision != nil {
		if f, ok := cat.FilterResultByID(decision.FilterResultID); ok {
			ev.Filter = &f
		}
	}
	s.notify(ctx, ev)

	return updated, nil
}

func (s *Service) observeTransition(from, to string, err error) {
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(from, to, err)
	}
}
