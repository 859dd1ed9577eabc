package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/ids"
	"github.com/starford/deckpack/internal/loader"
	"github.com/starford/deckpack/internal/models"
	"github.com/starford/deckpack/internal/sse"
)

const maxDefinitionBytes = 10 << 20

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Handler holds API route handlers.
type Handler struct {
	svc    *deckservice.Service
	events *sse.Broker
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(svc *deckservice.Service, events *sse.Broker) *Handler {
	return &Handler{svc: svc, events: events}
}

// wildcardPath extracts the path captured by a trailing "*" route segment.
// Supports encoded slashes from OpenAPI clients (e.g. lang%2Fspanish.yaml).
func wildcardPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// requestFormat picks the definition format from ?format=, then Content-Type,
// falling back to YAML.
func requestFormat(r *http.Request) (loader.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return loader.ParseFormat(f)
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		return loader.FormatJSON, nil
	case "application/toml":
		return loader.FormatTOML, nil
	default:
		return loader.FormatYAML, nil
	}
}

// readDefinition decodes a definition from the request body.
func readDefinition(w http.ResponseWriter, r *http.Request) (*models.PackageDefinition, error) {
	format, err := requestFormat(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %w", apperr.ErrInvalidArgument, err)
	}
	return loader.Parse(data, format)
}

// packageFileName derives a download name from the package name.
func packageFileName(name string) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(name, "-"), "-.")
	if base == "" {
		base = "package"
	}
	return base + deckservice.PackageExt
}

func (h *Handler) publish(definition string, r *deckservice.BuildReport, err error) {
	if h.events == nil || (r != nil && r.Skipped) {
		return
	}
	h.events.PublishBuildEvent(sse.BuildEventFor(definition, r, err))
}

// Validate handles POST /api/validate.
//
//	@Summary		Validate a definition and preview its identifiers
//	@Tags			build
//	@Accept			plain
//	@Produce		json
//	@Param			format	query		string	false	"Definition format"	Enums(yaml, toml, json)
//	@Success		200		{object}	ValidateResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/validate [post]
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	def, err := readDefinition(w, r)
	if err != nil {
		writeError(w, "decode definition", err)
		return
	}
	a, err := h.svc.Validate(r.Context(), def)
	if err != nil {
		writeError(w, "validate", err)
		return
	}
	writeJSON(w, http.StatusOK, validateResponse(a))
}

func validateResponse(a *ids.Assignment) ValidateResponse {
	resp := ValidateResponse{
		Valid:  true,
		Models: len(a.Models),
		Decks:  len(a.Decks),
		Notes:  len(a.Notes),
		Cards:  len(a.Cards()),
		IDs:    make([]NoteIDSummary, 0, len(a.Notes)),
	}
	for _, n := range a.Notes {
		cards := make([]int64, len(n.Cards))
		for i, c := range n.Cards {
			cards[i] = c.ID
		}
		resp.IDs = append(resp.IDs, NoteIDSummary{Position: n.Position, ID: n.ID, GUID: n.GUID, Cards: cards})
	}
	return resp
}

// Build handles POST /api/build and streams the package back.
//
//	@Summary		Build a package from a posted definition
//	@Tags			build
//	@Accept			plain
//	@Produce		octet-stream
//	@Param			format	query		string	false	"Definition format"	Enums(yaml, toml, json)
//	@Success		200		{file}		binary
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/build [post]
func (h *Handler) Build(w http.ResponseWriter, r *http.Request) {
	def, err := readDefinition(w, r)
	if err != nil {
		writeError(w, "decode definition", err)
		return
	}
	data, res, err := h.svc.BuildBytes(r.Context(), def)
	if err != nil {
		writeError(w, "build", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": packageFileName(def.Package.Name),
	}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Deck-Notes", strconv.Itoa(res.Notes()))
	w.Header().Set("X-Deck-Cards", strconv.Itoa(res.Cards()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Warn("write package failed", slog.String("error", err.Error()))
	}
}

// ListDefinitions handles GET /api/definitions.
//
//	@Summary		List workspace definitions
//	@Tags			definitions
//	@Produce		json
//	@Success		200	{object}	DefinitionListResponse
//	@Security		BearerAuth
//	@Router			/definitions [get]
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListDefinitions(r.Context())
	if err != nil {
		writeError(w, "list definitions", err)
		return
	}
	if items == nil {
		items = []DefinitionItem{}
	}
	writeJSON(w, http.StatusOK, DefinitionListResponse{Definitions: items, Total: len(items)})
}

// GetDefinition handles GET /api/definitions/*.
//
//	@Summary		Get a workspace definition
//	@Tags			definitions
//	@Produce		json
//	@Param			path	path		string	true	"Definition path"
//	@Success		200		{object}	DefinitionDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/definitions/{path} [get]
func (h *Handler) GetDefinition(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	d, err := h.svc.DefinitionSource(r.Context(), name)
	if err != nil {
		writeError(w, "get definition", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// PutDefinition handles PUT /api/definitions/*. The body is the raw file.
//
//	@Summary		Create or replace a workspace definition
//	@Tags			definitions
//	@Accept			plain
//	@Produce		json
//	@Param			path		path		string	true	"Definition path"
//	@Param			If-Match	header		string	false	"SHA-256 checksum for optimistic concurrency"
//	@Success		200			{object}	DefinitionItem
//	@Failure		400			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/definitions/{path} [put]
func (h *Handler) PutDefinition(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if !deckservice.IsDefinition(name) {
		writeJSON(w, http.StatusBadRequest, errorBody("path must end with .yaml, .yml, .toml or .json"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	item, err := h.svc.PutDefinition(r.Context(), name, body, ifMatch)
	if err != nil {
		writeError(w, "put definition", err)
		return
	}
	w.Header().Set("ETag", `"`+item.Checksum+`"`)
	writeJSON(w, http.StatusOK, item)
}

// DeleteDefinition handles DELETE /api/definitions/*.
//
//	@Summary		Delete a workspace definition and its package
//	@Tags			definitions
//	@Param			path	path	string	true	"Definition path"
//	@Success		204		"Definition deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/definitions/{path} [delete]
func (h *Handler) DeleteDefinition(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.DeleteDefinition(r.Context(), name); err != nil {
		writeError(w, "delete definition", err)
		return
	}
	if h.events != nil {
		h.events.PublishBuildEvent(sse.TypePackageRemoved, sse.BuildEvent{
			Definition: name, Package: deckservice.PackageName(name),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// BuildDefinition handles POST /api/builds/*.
//
//	@Summary		Build one workspace definition
//	@Tags			build
//	@Produce		json
//	@Param			path	path		string	true	"Definition path"
//	@Param			force	query		bool	false	"Rebuild even when unchanged"
//	@Success		200		{object}	BuildReport
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/builds/{path} [post]
func (h *Handler) BuildDefinition(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	report, err := h.svc.BuildDefinition(r.Context(), name, force)
	h.publish(name, report, err)
	if err != nil {
		writeError(w, "build definition", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// BuildAll handles POST /api/builds.
//
//	@Summary		Build every workspace definition
//	@Tags			build
//	@Produce		json
//	@Param			force	query		bool	false	"Rebuild even when unchanged"
//	@Success		200		{object}	BuildAllResponse
//	@Security		BearerAuth
//	@Router			/builds [post]
func (h *Handler) BuildAll(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	reports, err := h.svc.BuildAll(r.Context(), force)
	resp := BuildAllResponse{Reports: reports}
	if resp.Reports == nil {
		resp.Reports = []BuildReport{}
	}
	for i := range resp.Reports {
		h.publish(resp.Reports[i].Definition, &resp.Reports[i], nil)
	}
	if err != nil {
		resp.Errors = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImportDefinition handles POST /api/imports/*.
//
//	@Summary		Push a workspace definition into a running Anki
//	@Tags			import
//	@Produce		json
//	@Param			path	path		string	true	"Definition path"
//	@Success		200		{object}	ImportResult
//	@Failure		502		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports/{path} [post]
func (h *Handler) ImportDefinition(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Import(r.Context(), name)
	if err != nil {
		writeError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DownloadPackage handles GET /api/packages/*.
//
//	@Summary		Download a built package
//	@Tags			build
//	@Produce		octet-stream
//	@Param			path	path	string	true	"Package path"
//	@Success		200		{file}	binary
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/packages/{path} [get]
func (h *Handler) DownloadPackage(w http.ResponseWriter, r *http.Request) {
	name := wildcardPath(r)
	abs, err := h.svc.PackagePath(name)
	if err != nil {
		writeError(w, "download package", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": path.Base(name),
	}))
	http.ServeFile(w, r, abs)
}
