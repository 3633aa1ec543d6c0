package report

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ActionInput is the request for CreateAction.
type ActionInput struct {
	ReportID    string       `json:"-"`
	Description string       `json:"description"`
	StatusCode  ActionStatus `json:"status_code"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
}

// CreateAction records a remediation step on a report. An empty status code
// defaults to suggested.
func (s *Service) CreateAction(ctx context.Context, actor Actor, in ActionInput) (*Action, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return nil, Errorf(KindValidation, "description is required")
	}
	if in.StatusCode == "" {
		in.StatusCode = ActionSuggested
	}
	if !in.StatusCode.Valid() {
		return nil, Errorf(KindValidation, "unknown action status %q", in.StatusCode)
	}
	r, err := s.loadAuthorized(ctx, actor, OpManageActions, in.ReportID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a := &Action{
		ID:          ulid.Make().String(),
		ReportID:    r.ID,
		Description: in.Description,
		StatusCode:  in.StatusCode,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAction(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "action created", "report_id", r.ID, "action_id", a.ID, "status", a.StatusCode)
	return a, nil
}

// ListActions returns a report's actions, oldest first.
func (s *Service) ListActions(ctx context.Context, actor Actor, reportID string) ([]Action, error) {
	if _, err := s.loadAuthorized(ctx, actor, OpManageActions, reportID); err != nil {
		return nil, err
	}
	return s.store.ListActions(ctx, reportID)
}

// UpdateActionStatus moves an action to another lifecycle status. Action
// statuses have no transition table; any valid code is accepted.
func (s *Service) UpdateActionStatus(ctx context.Context, actor Actor, actionID string, status ActionStatus) (*Action, error) {
	if !status.Valid() {
		return nil, Errorf(KindValidation, "unknown action status %q", status)
	}
	if err := Authorize(actor, OpManageActions, nil); err != nil {
		return nil, err
	}
	a, ok, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Errorf(KindNotFound, "action %s not found", actionID)
	}
	if _, err := s.loadAuthorized(ctx, actor, OpManageActions, a.ReportID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateActionStatus(ctx, actionID, status, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "action status changed", "action_id", actionID, "from", a.StatusCode, "to", status)
	return updated, nil
}
