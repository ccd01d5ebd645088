package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// maxUploadBodyBytes bounds the multipart body we're willing to buffer
// before rejecting a request, one byte above MaxAttachmentBytes so the
// real size check in files.Service.Upload is what decides the outcome.
const maxUploadBodyBytes = model.MaxAttachmentBytes + 1

// UploadFile implements POST /v1/files (multipart/form-data, field "file").
func (s *Server) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, model.NewError(model.KindValidation, "missing multipart file field", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, model.NewError(model.KindValidation, "failed to read upload body", err))
		return
	}

	att, err := s.Files.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// GetFile implements GET /v1/files/{fileID} — metadata and scan verdict only.
func (s *Server) GetFile(w http.ResponseWriter, r *http.Request) {
	att, err := s.Files.Get(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

// PresignFile implements GET /v1/files/{fileID}/download-url.
func (s *Server) PresignFile(w http.ResponseWriter, r *http.Request) {
	url, err := s.Files.PresignDownloadURL(r.Context(), chi.URLParam(r, "fileID"), 15*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
