//go:build unix

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sitekit/sitekit/internal/limits"
	"github.com/sitekit/sitekit/internal/registry"
)

// Request/Response types

type AddSiteRequest struct {
	Name        string            `json:"name"`
	Directory   string            `json:"directory"`
	Recipe      string            `json:"recipe"`
	Environment string            `json:"environment"`
	Purpose     string            `json:"purpose"`
	Fields      map[string]string `json:"fields,omitempty"`
}

type UpdateSiteRequest struct {
	Directory   *string           `json:"directory,omitempty"`
	Environment *string           `json:"environment,omitempty"`
	Purpose     *string           `json:"purpose,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	UnsetFields []string          `json:"unset_fields,omitempty"`
}

type SiteResponse struct {
	Site *registry.SiteEntry `json:"site"`
}

type ListSitesResponse struct {
	Sites []*registry.SiteEntry `json:"sites"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler methods

func (d *Daemon) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		d.handleListSites(w, r)
	case http.MethodPost:
		d.handleAddSite(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Daemon) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := d.store.List()
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, ListSitesResponse{Sites: sites}, http.StatusOK)
}

func (d *Daemon) handleAddSite(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req AddSiteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limits.JSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	entry := &registry.SiteEntry{
		Name:        req.Name,
		Directory:   req.Directory,
		Recipe:      req.Recipe,
		Environment: registry.Environment(req.Environment),
		Purpose:     registry.Purpose(req.Purpose),
	}
	for k, v := range req.Fields {
		entry.SetExtra(k, v)
	}

	if err := d.store.Add(r.Context(), entry); err != nil {
		writeRegistryError(w, err)
		return
	}

	added, err := d.store.Get(entry.Name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	w.Header().Set("Location", "/api/sites/"+url.PathEscape(entry.Name))
	writeJSON(w, SiteResponse{Site: added}, http.StatusCreated)
}

// handleSiteByName routes requests to /api/sites/{name}
func (d *Daemon) handleSiteByName(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/sites/")
	name, err := url.PathUnescape(raw)
	if err != nil || name == "" || strings.Contains(name, "/") {
		writeError(w, "site name is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		d.handleShowSite(w, r, name)
	case http.MethodPatch:
		d.handleUpdateSite(w, r, name)
	case http.MethodDelete:
		d.handleRemoveSite(w, r, name)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (d *Daemon) handleShowSite(w http.ResponseWriter, r *http.Request, name string) {
	site, err := d.store.Get(name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, SiteResponse{Site: site}, http.StatusOK)
}

func (d *Daemon) handleUpdateSite(w http.ResponseWriter, r *http.Request, name string) {
	defer r.Body.Close()

	var req UpdateSiteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limits.JSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	err := d.store.Update(r.Context(), name, func(e *registry.SiteEntry) error {
		if req.Directory != nil {
			e.Directory = *req.Directory
		}
		if req.Environment != nil {
			e.Environment = registry.Environment(*req.Environment)
		}
		if req.Purpose != nil {
			e.Purpose = registry.Purpose(*req.Purpose)
		}
		for k, v := range req.Fields {
			e.SetExtra(k, v)
		}
		for _, k := range req.UnsetFields {
			e.UnsetExtra(k)
		}
		return nil
	})
	if err != nil {
		writeRegistryError(w, err)
		return
	}

	updated, err := d.store.Get(name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, SiteResponse{Site: updated}, http.StatusOK)
}

func (d *Daemon) handleRemoveSite(w http.ResponseWriter, r *http.Request, name string) {
	if err := d.store.Remove(r.Context(), name); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper functions

// writeRegistryError maps the registry error taxonomy to HTTP statuses.
// Lock timeouts get 503 + Retry-After since they are the one retryable case.
func writeRegistryError(w http.ResponseWriter, err error) {
	var (
		ambErr   *registry.AmbiguousKeyError
		valErr   *registry.ValidationError
		malErr   *registry.MalformedError
		truncErr *registry.TruncationError
	)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrDuplicateKey):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &ambErr):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &valErr):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &malErr), errors.As(err, &truncErr):
		writeError(w, err.Error(), http.StatusInternalServerError)
	default:
		writeError(w, fmt.Sprintf("registry operation failed: %v", err), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	buf, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, ErrorResponse{Error: message}, status)
}
