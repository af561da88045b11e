package server

import (
	"cmp"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

// capabilityEntry is one authz object a principal may hold, with the
// actions and routes bound to it. Derived from routePermissions so the
// catalog can never drift from what the middleware enforces.
type capabilityEntry struct {
	Module  string   `json:"module"`
	Object  string   `json:"object"`
	Actions []string `json:"actions"`
	Routes  []string `json:"routes"`
}

type capabilityCatalogFilter struct {
	Module string
	Object string
}

type capabilityCatalogResponse struct {
	Items []capabilityEntry `json:"items"`
}

var capabilityCatalogEntries = buildCapabilityCatalogEntries(routePermissions)

func buildCapabilityCatalogEntries(perms []routePermission) []capabilityEntry {
	byObject := make(map[string]*capabilityEntry)
	for _, p := range perms {
		object := strings.TrimSpace(p.Object)
		if object == "" {
			continue
		}
		entry, ok := byObject[object]
		if !ok {
			entry = &capabilityEntry{
				Module: capabilityModuleForPath(p.Path),
				Object: object,
			}
			byObject[object] = entry
		}
		action := strings.TrimSpace(p.Action)
		if action != "" && !slices.Contains(entry.Actions, action) {
			entry.Actions = append(entry.Actions, action)
			slices.Sort(entry.Actions)
		}
		route := strings.ToUpper(strings.TrimSpace(p.Method)) + " " + strings.TrimSpace(p.Path)
		if !slices.Contains(entry.Routes, route) {
			entry.Routes = append(entry.Routes, route)
		}
	}

	entries := make([]capabilityEntry, 0, len(byObject))
	for _, entry := range byObject {
		slices.Sort(entry.Routes)
		entries = append(entries, *entry)
	}
	slices.SortFunc(entries, func(a, b capabilityEntry) int {
		return cmp.Or(
			strings.Compare(a.Module, b.Module),
			strings.Compare(a.Object, b.Object),
		)
	})
	return entries
}

// capabilityModuleForPath takes the first path segment as the owning
// module ("/payroll/api/runs" belongs to payroll).
func capabilityModuleForPath(path string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(path), "/")
	if idx := strings.Index(trimmed, "/"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	return strings.ToLower(strings.TrimSpace(trimmed))
}

func listCapabilityCatalog(filter capabilityCatalogFilter) []capabilityEntry {
	module := strings.ToLower(strings.TrimSpace(filter.Module))
	object := strings.ToLower(strings.TrimSpace(filter.Object))

	items := make([]capabilityEntry, 0, len(capabilityCatalogEntries))
	for _, entry := range capabilityCatalogEntries {
		if module != "" && entry.Module != module {
			continue
		}
		if object != "" && strings.ToLower(entry.Object) != object {
			continue
		}
		items = append(items, entry)
	}
	return items
}

func handleCapabilityCatalogAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, ok := currentTenant(r.Context()); !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	filter := capabilityCatalogFilter{
		Module: strings.TrimSpace(r.URL.Query().Get("module")),
		Object: strings.TrimSpace(r.URL.Query().Get("object")),
	}
	items := listCapabilityCatalog(filter)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(capabilityCatalogResponse{Items: items})
}
