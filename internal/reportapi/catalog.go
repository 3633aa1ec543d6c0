package reportapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/grievance/internal/report"
)

func (a *API) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, newCatalogView(a.svc.Catalog()))
}

func (a *API) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	cat, err := a.svc.ReloadCatalog(r.Context(), act)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCatalogView(cat))
}

func (a *API) handlePutDepartment(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	var d report.Department
	if err := decode(r, &d); err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		d.ID = id
		status = http.StatusOK
	}
	saved, err := a.svc.PutDepartment(r.Context(), act, d)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, status, saved)
}

func (a *API) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	act, ok := actor(w, r)
	if !ok {
		return
	}
	departments, err := a.svc.ListDepartments(r.Context(), act, chi.URLParam(r, "org"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if departments == nil {
		departments = []report.Department{}
	}
	writeJSON(w, http.StatusOK, departments)
}
