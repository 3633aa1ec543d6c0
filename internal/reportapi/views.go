package reportapi

import "github.com/linnemanlabs/grievance/internal/report"

// reportView adds catalog codes next to the numeric references.
type reportView struct {
	*report.Report
	StatusCode   string            `json:"status_code"`
	FilterResult report.FilterCode `json:"filter_result,omitempty"`
}

func newReportView(cat *report.Catalog, r *report.Report) reportView {
	v := reportView{Report: r}
	if s, ok := cat.StatusByID(r.StatusID); ok {
		v.StatusCode = s.Code
	}
	if r.FilterResultID != nil {
		if f, ok := cat.FilterResultByID(*r.FilterResultID); ok {
			v.FilterResult = f.Code
		}
	}
	return v
}

type historyView struct {
	report.StatusHistoryEntry
	StatusCode string `json:"status_code"`
}

type transitionView struct {
	From            string `json:"from"`
	To              string `json:"to"`
	RequiresComment bool   `json:"requires_comment"`
	RequiresAction  bool   `json:"requires_action"`
}

type catalogView struct {
	Statuses      []report.StatusDefinition `json:"statuses"`
	Transitions   []transitionView          `json:"transitions"`
	FilterResults []report.FilterResult     `json:"filter_results"`
}

func newCatalogView(cat *report.Catalog) catalogView {
	v := catalogView{
		Statuses:      cat.Statuses(),
		FilterResults: cat.FilterResults(),
	}
	for _, rule := range cat.Rules() {
		from, _ := cat.StatusByID(rule.FromStatusID)
		to, _ := cat.StatusByID(rule.ToStatusID)
		v.Transitions = append(v.Transitions, transitionView{
			From:            from.Code,
			To:              to.Code,
			RequiresComment: rule.RequiresComment,
			RequiresAction:  rule.RequiresAction,
		})
	}
	return v
}

type routeView struct {
	Report     reportView         `json:"report"`
	Department *report.Department `json:"department"`
}

type autoFilterView struct {
	Report     reportView `json:"report"`
	ResultCode string     `json:"result_code"`
	Reasoning  string     `json:"reasoning"`
	Confident  bool       `json:"confident"`
}
