package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

func handleRegisterReportAPI(w http.ResponseWriter, r *http.Request, store ReportStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rows, err := store.RegisterRows(r.Context(), tenant.ID, registerFilterFromQuery(r.URL.Query()))
	if err != nil {
		writeInternalAPIError(w, r, err, "REPORTS_REGISTER_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		Rows  []RegisterRow `json:"rows"`
		Count int           `json:"count"`
	}{Rows: rows, Count: len(rows)})
}

func handleRegisterArchivesAPI(w http.ResponseWriter, r *http.Request, store ReportStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	archives, err := store.ListRegisterArchives(r.Context(), tenant.ID)
	if err != nil {
		writeInternalAPIError(w, r, err, "REPORTS_ARCHIVE_LIST_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(archives)
}

func handleRegisterArchiveAPI(w http.ResponseWriter, r *http.Request, store ReportStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	archiveID, ok := requirePathID(w, r, "/reports/api/archives/")
	if !ok {
		return
	}
	if strings.Contains(strings.TrimPrefix(r.URL.Path, "/reports/api/archives/"+archiveID), "/") {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "not_found", "not found")
		return
	}

	archive, rows, err := store.GetRegisterArchive(r.Context(), tenant.ID, archiveID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "REPORTS_ARCHIVE_NOT_FOUND", "archive not found")
			return
		}
		writeInternalAPIError(w, r, err, "REPORTS_ARCHIVE_GET_FAILED")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(struct {
		RegisterArchive
		Rows []RegisterRow `json:"rows"`
	}{RegisterArchive: archive, Rows: rows})
}
