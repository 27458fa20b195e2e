package httpx

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/haukened/stash/internal/app"
)

const (
	// multipartOverhead allows for boundaries and the text fields on top of the file.
	multipartOverhead = 1 << 20
	// memoryLimit is how much of a multipart body is held in memory before spilling to disk.
	memoryLimit = 8 << 20
	// passwordParam is the query parameter carrying a file password.
	passwordParam = "pass"
)

// handleUpload implements POST /v1/file with multipart fields file, password and message.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.MaxBody > 0 {
		limit := h.MaxBody + multipartOverhead
		if r.ContentLength > limit {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size exceeded")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(memoryLimit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "size exceeded")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, hdr, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "file required")
		return
	}
	defer f.Close()

	view, err := h.Service.Upload(ctx, app.UploadInput{
		Body:     f,
		Size:     hdr.Size,
		Filename: hdr.Filename,
		Password: r.PostFormValue("password"),
		Message:  r.PostFormValue("message"),
	})
	if err != nil {
		h.mapServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleGet implements GET /v1/file/{id}?pass=.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.Get(r.Context(), r.PathValue("id"), r.URL.Query().Get(passwordParam))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleDownload implements GET /v1/file/download/{id}?pass= and streams the blob.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := h.Service.Download(r.Context(), r.PathValue("id"), r.URL.Query().Get(passwordParam))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	defer dl.Body.Close()

	name := dl.View.Filename
	if name == "" {
		name = dl.View.ID.String()
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, dl.Body, dl.Size); err != nil {
		cid, _ := GetCorrelationID(r.Context())
		h.log().Warn("download interrupted", "cid", cid, "id", dl.View.ID.String(), "error", err)
	}
}

// handleDelete implements DELETE /v1/file/{id}?pass=.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.Delete(r.Context(), r.PathValue("id"), r.URL.Query().Get(passwordParam))
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
