package httpadapter

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

const (
	multipartOverheadBytes = 1 << 20
	multipartMemoryBytes   = 8 << 20
)

// openUploadedFile applies the upload size cap and returns the "file" part.
func (rt *Router) openUploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartOverheadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, nil, err
		}
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "parse multipart form", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "read form file", errors.New("multipart field 'file' is required"))
	}
	if rt.cfg.MaxUploadBytes > 0 && header.Size > rt.cfg.MaxUploadBytes {
		_ = file.Close()
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "read form file", fmt.Errorf("file exceeds %d bytes", rt.cfg.MaxUploadBytes))
	}
	return file, header, nil
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	file, header, err := rt.openUploadedFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	upload, err := rt.svc.Uploads.Upload(
		r.Context(),
		userIDFromContext(r.Context()),
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, upload)
}

func (rt *Router) ingestDocument(w http.ResponseWriter, r *http.Request) {
	file, header, err := rt.openUploadedFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	policy, err := rt.chunkPolicyFromForm(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "read form file", err))
		return
	}

	doc, err := rt.svc.Ingest.IngestBytes(r.Context(), userIDFromContext(r.Context()), header.Filename, data, policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// chunkPolicyFromForm overrides the configured policy with optional
// chunk_size and chunk_overlap form fields. An overridden policy must keep
// 0 <= overlap < size.
func (rt *Router) chunkPolicyFromForm(r *http.Request) (domain.ChunkPolicy, error) {
	policy := rt.cfg.ChunkPolicy()
	overridden := false
	for _, field := range []string{"chunk_size", "chunk_overlap"} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.ChunkPolicy{}, domain.WrapError(domain.ErrInvalidInput, "parse "+field, err)
		}
		if !overridden && policy == (domain.ChunkPolicy{}) {
			policy = domain.DefaultChunkPolicy()
		}
		overridden = true
		if field == "chunk_size" {
			policy.TargetSize = n
		} else {
			policy.Overlap = n
		}
	}
	if overridden && (policy.TargetSize <= 0 || policy.Overlap < 0 || policy.Overlap >= policy.TargetSize) {
		return domain.ChunkPolicy{}, domain.WrapError(domain.ErrInvalidInput, "chunk policy",
			fmt.Errorf("chunk_overlap %d must be in [0, chunk_size %d)", policy.Overlap, policy.TargetSize))
	}
	return policy, nil
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.svc.Library.ListDocuments(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.svc.Library.GetDocument(r.Context(), userIDFromContext(r.Context()), r.PathValue("document_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Library.DeleteDocument(r.Context(), userIDFromContext(r.Context()), r.PathValue("document_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := rt.svc.Uploads.GetUpload(r.Context(), userIDFromContext(r.Context()), r.PathValue("upload_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}
