package reportapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/grievance/internal/report"
)

func (a *API) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in report.NewReport
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	rep, err := a.svc.CreateReport(r.Context(), act, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReportView(a.svc.Catalog(), rep))
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	rep, err := a.svc.GetReport(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(a.svc.Catalog(), rep))
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in report.TransitionInput
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.ReportID = reportID(r)
	rep, err := a.svc.ApplyTransition(r.Context(), act, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(a.svc.Catalog(), rep))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	entries, err := a.svc.ListStatusHistory(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	cat := a.svc.Catalog()
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		v := historyView{StatusHistoryEntry: e}
		if s, ok := cat.StatusByID(e.StatusID); ok {
			v.StatusCode = s.Code
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleFilterDecision(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in report.FilterDecisionInput
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.ReportID = reportID(r)
	rep, err := a.svc.ApplyFilterDecision(r.Context(), act, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(a.svc.Catalog(), rep))
}

func (a *API) handleGetFilterDecision(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	d, err := a.svc.GetFilterDecision(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleAutoFilter(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	rep, c, err := a.svc.AutoFilter(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, autoFilterView{
		Report:     newReportView(a.svc.Catalog(), rep),
		ResultCode: string(c.ResultCode),
		Reasoning:  c.Reasoning,
		Confident:  c.Confident,
	})
}

func (a *API) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in report.ActionInput
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	in.ReportID = reportID(r)
	action, err := a.svc.CreateAction(r.Context(), act, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

func (a *API) handleListActions(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	actions, err := a.svc.ListActions(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if actions == nil {
		actions = []report.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (a *API) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		StatusCode report.ActionStatus `json:"status_code"`
	}
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	action, err := a.svc.UpdateActionStatus(r.Context(), act, chi.URLParam(r, "id"), in.StatusCode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (a *API) handleRoute(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	rep, d, err := a.svc.RouteReport(r.Context(), act, reportID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routeView{Report: newReportView(a.svc.Catalog(), rep), Department: d})
}

func (a *API) handleAssignDepartment(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var in struct {
		DepartmentID *string `json:"department_id"`
	}
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}
	rep, err := a.svc.AssignDepartment(r.Context(), act, reportID(r), in.DepartmentID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportView(a.svc.Catalog(), rep))
}
