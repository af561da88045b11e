package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

func handleDeviceLinksAPI(w http.ResponseWriter, r *http.Request, store TimePunchStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit := 200
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			if n > 1000 {
				n = 1000
			}
			limit = n
		}

		links, err := store.ListDeviceLinks(r.Context(), tenant.ID, limit)
		if err != nil {
			writeInternalAPIError(w, r, err, "TIMECLOCK_LIST_FAILED")
			return
		}
		if links == nil {
			links = []EmployeeDeviceLink{}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant": tenant.ID,
			"links":  links,
		})
	case http.MethodPost:
		var req struct {
			Provider     string `json:"provider"`
			DeviceUserID string `json:"device_user_id"`
			EmployeeID   string `json:"employee_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
			return
		}

		if err := store.LinkDevice(r.Context(), tenant.ID, req.Provider, req.DeviceUserID, req.EmployeeID); err != nil {
			if isBadRequestError(err) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "link_failed", err.Error())
				return
			}
			writeInternalAPIError(w, r, err, "TIMECLOCK_LINK_FAILED")
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant":         tenant.ID,
			"provider":       strings.ToUpper(strings.TrimSpace(req.Provider)),
			"device_user_id": strings.TrimSpace(req.DeviceUserID),
			"employee_id":    strings.TrimSpace(req.EmployeeID),
			"status":         "active",
		})
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func handleDeviceLinkUnlinkAPI(w http.ResponseWriter, r *http.Request, store TimePunchStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req struct {
		Provider     string `json:"provider"`
		DeviceUserID string `json:"device_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "request body must be JSON")
		return
	}

	if err := store.UnlinkDevice(r.Context(), tenant.ID, req.Provider, req.DeviceUserID); err != nil {
		if isBadRequestError(err) {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "unlink_failed", err.Error())
			return
		}
		if strings.Contains(err.Error(), "not found") {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "link_not_found", err.Error())
			return
		}
		writeInternalAPIError(w, r, err, "TIMECLOCK_UNLINK_FAILED")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tenant":         tenant.ID,
		"provider":       strings.ToUpper(strings.TrimSpace(req.Provider)),
		"device_user_id": strings.TrimSpace(req.DeviceUserID),
		"status":         "pending",
	})
}
