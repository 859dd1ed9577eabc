package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/deckpack/internal/deckservice"
)

// maxUploadBytes bounds a multipart upload; the service enforces the per-file cap.
const maxUploadBytes = deckservice.MaxMediaSize + 1<<20

// MediaHandler serves and accepts media library files.
type MediaHandler struct {
	svc *deckservice.Service
}

// NewMediaHandler creates a media library handler.
func NewMediaHandler(svc *deckservice.Service) *MediaHandler {
	return &MediaHandler{svc: svc}
}

// ServeFile handles GET /media/{filename}.
func (h *MediaHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := h.svc.MediaPath(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, "serve media", err)
		return
	}
	http.ServeFile(w, r, abs)
}

// List handles GET /api/media.
//
//	@Summary		List the media library
//	@Tags			media
//	@Produce		json
//	@Success		200	{object}	MediaListResponse
//	@Security		BearerAuth
//	@Router			/media [get]
func (h *MediaHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListMedia(r.Context())
	if err != nil {
		writeError(w, "list media", err)
		return
	}
	writeJSON(w, http.StatusOK, MediaListResponse{Media: items})
}

// Upload handles POST /api/media (multipart/form-data, field "file").
//
//	@Summary		Add a file to the media library
//	@Tags			media
//	@Accept			mpfd
//	@Produce		json
//	@Param			file	formData	file	true	"Media file"
//	@Success		201		{object}	MediaItem
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/media [post]
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	item, err := h.svc.AddMedia(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, "upload media", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
