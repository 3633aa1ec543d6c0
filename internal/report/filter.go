package report

import (
	"context"
	"errors"
	"fmt"
)

// FilterDecisionInput is the request for ApplyFilterDecision.
type FilterDecisionInput struct {
	ReportID         string     `json:"-"`
	ResultCode       FilterCode `json:"result_code"`
	Reasoning        string     `json:"reasoning,omitempty"`
	IsAuto           bool       `json:"is_auto"`
	NeedsSuperReview bool       `json:"needs_super_review"`
}

// ApplyFilterDecision classifies a report that is still in pre_evaluation and
// moves it to the status mapped from the result code. The decision record,
// the status change and its history row are one commit. A second decision on
// the same report fails with ErrAlreadyDecided.
func (s *Service) ApplyFilterDecision(ctx context.Context, actor Actor, in FilterDecisionInput) (*Report, error) {
	updated, err := s.applyFilterDecision(ctx, actor, in)
	if s.hooks.OnFilterDecision != nil {
		code := in.ResultCode
		if errors.Is(err, ErrUnknownResultCode) {
			code = "unknown"
		}
		s.hooks.OnFilterDecision(code, in.IsAuto, err)
	}
	return updated, err
}

func (s *Service) applyFilterDecision(ctx context.Context, actor Actor, in FilterDecisionInput) (*Report, error) {
	cat := s.Catalog()
	result, ok := cat.FilterResult(in.ResultCode)
	if !ok {
		return nil, Errorf(KindUnknownResultCode, "unknown filter result %q", in.ResultCode)
	}
	target, ok := cat.FilterTarget(in.ResultCode)
	if !ok {
		return nil, Errorf(KindNotFound, "no target status for filter result %q", in.ResultCode)
	}

	r, err := s.loadAuthorized(ctx, actor, OpFilterDecision, in.ReportID)
	if err != nil {
		return nil, err
	}
	if r.FilterResultID != nil || r.StatusID != cat.Initial().ID {
		return nil, Errorf(KindAlreadyDecided, "report %s has already been filtered", r.ID)
	}

	decision := &FilterDecision{
		ReportID:         r.ID,
		FilterResultID:   result.ID,
		Reasoning:        in.Reasoning,
		IsAuto:           in.IsAuto,
		NeedsSuperReview: in.NeedsSuperReview,
		DecidedBy:        actor.ID,
		DecidedAt:        s.now(),
	}

	updated, err := s.transition(ctx, actor, cat, r, target, in.Reasoning, decision, in.ResultCode == FilterSpam)
	s.observeTransition(cat.Initial().Code, target.Code, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "filter decision applied",
		"report_id", r.ID,
		"result", in.ResultCode,
		"is_auto", in.IsAuto,
		"needs_super_review", in.NeedsSuperReview,
	)
	return updated, nil
}

// GetFilterDecision returns the decision recorded for a report.
func (s *Service) GetFilterDecision(ctx context.Context, actor Actor, reportID string) (*FilterDecision, error) {
	if _, err := s.loadAuthorized(ctx, actor, OpFilterDecision, reportID); err != nil {
		return nil, err
	}
	d, ok, err := s.store.GetFilterDecision(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Errorf(KindNotFound, "report %s has no filter decision", reportID)
	}
	return d, nil
}

// AutoFilter asks the configured Classifier for a decision and applies it as
// an automatic one. Anything other than a confident admission is flagged for
// super review.
func (s *Service) AutoFilter(ctx context.Context, actor Actor, reportID string) (*Report, *Classification, error) {
	if s.classifier == nil {
		return nil, nil, Errorf(KindValidation, "automatic filtering is not configured")
	}
	r, err := s.loadAuthorized(ctx, actor, OpFilterDecision, reportID)
	if err != nil {
		return nil, nil, err
	}
	if r.FilterResultID != nil || r.StatusID != s.Catalog().Initial().ID {
		return nil, nil, Errorf(KindAlreadyDecided, "report %s has already been filtered", r.ID)
	}

	c, err := s.classifier.Classify(ctx, r)
	if err != nil {
		return nil, nil, fmt.Errorf("classify report %s: %w", r.ID, err)
	}

	updated, err := s.ApplyFilterDecision(ctx, actor, FilterDecisionInput{
		ReportID:         r.ID,
		ResultCode:       c.ResultCode,
		Reasoning:        c.Reasoning,
		IsAuto:           true,
		NeedsSuperReview: !c.Confident || c.ResultCode != FilterAdmitted,
	})
	if err != nil {
		return nil, c, err
	}
	return updated, c, nil
}
