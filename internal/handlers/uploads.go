// Package handlers implements Sealbox's HTTP protocol adapter: the
// TUS-inspired resumable upload endpoints and signed blob retrieval. The
// adapter translates verbs and headers into upload store operations; all
// correctness-critical logic lives in internal/session.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sealbox/sealbox/internal/blob"
	uperr "github.com/sealbox/sealbox/internal/errors"
	"github.com/sealbox/sealbox/internal/metrics"
	"github.com/sealbox/sealbox/internal/session"
	"github.com/sealbox/sealbox/internal/signing"
	"github.com/sealbox/sealbox/internal/uid"
)

// UploadHandler contains handlers for the resumable upload endpoints.
type UploadHandler struct {
	sessions        *session.Store
	blobs           *blob.Store
	signer          *signing.Signer
	maxUploadLength int64
}

// NewUploadHandler creates an UploadHandler with the given dependencies.
func NewUploadHandler(sessions *session.Store, blobs *blob.Store, signer *signing.Signer, maxUploadLength int64) *UploadHandler {
	return &UploadHandler{
		sessions:        sessions,
		blobs:           blobs,
		signer:          signer,
		maxUploadLength: maxUploadLength,
	}
}

// CreateUpload handles POST /uploads: declares a new upload session.
// Requires a positive Upload-Length header; accepts an optional
// Upload-Metadata header with "filename" and "filetype" keys.
func (h *UploadHandler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	uploadLength, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	if err != nil || uploadLength <= 0 {
		writeError(w, uperr.ErrMissingUploadLength)
		return
	}
	if h.maxUploadLength > 0 && uploadLength > h.maxUploadLength {
		writeError(w, uperr.ErrUploadTooLarge)
		return
	}

	meta := parseUploadMetadata(r.Header.Get("Upload-Metadata"))

	id := uid.New()
	sess, err := h.sessions.Create(id, uploadLength, meta["filename"], meta["filetype"])
	if err != nil {
		slog.Error("CreateUpload store error", "error", err)
		writeError(w, uperr.ErrInternalError)
		return
	}
	metrics.SessionsCreatedTotal.Inc()

	w.Header().Set("Location", "/uploads/"+sess.ID)
	w.Header().Set("Upload-Offset", "0")
	w.Header().Set("Upload-Length", strconv.FormatInt(sess.UploadLength, 10))
	w.WriteHeader(http.StatusCreated)
}

// HeadUpload handles HEAD /uploads/{id}: reports the session's current
// offset and declared length without side effects.
func (h *UploadHandler) HeadUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.sessions.ReadMeta(id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	// Offsets must never be served from intermediary caches; a stale
	// offset would desynchronize the client.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Upload-Offset", strconv.FormatInt(sess.UploadOffset, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(sess.UploadLength, 10))
	w.WriteHeader(http.StatusNoContent)
}

// PatchUpload handles PATCH /uploads/{id}: appends the request body at the
// claimed Upload-Offset. The chunk that completes the upload also finalizes
// the session into permanent blob storage and returns the signed handle in
// the X-Signed-Id header.
func (h *UploadHandler) PatchUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	claimedOffset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || claimedOffset < 0 {
		writeError(w, uperr.ErrMissingUploadOffset)
		return
	}

	newOffset, err := h.sessions.AppendChunk(id, claimedOffset, r.Body)
	if err != nil {
		var mismatch *uperr.OffsetMismatchError
		switch {
		case errors.As(err, &mismatch):
			metrics.OffsetConflictsTotal.Inc()
			w.Header().Set("Upload-Offset", strconv.FormatInt(mismatch.CurrentOffset, 10))
			writeError(w, &uperr.UploadError{
				Code:       "OffsetMismatch",
				Message:    mismatch.Error(),
				HTTPStatus: http.StatusConflict,
			})
		case errors.Is(err, uperr.ErrGone):
			h.retryFinalize(w, r, id, claimedOffset)
		default:
			h.writeStoreError(w, err)
		}
		return
	}
	metrics.ChunksAppendedTotal.Inc()
	metrics.ChunkBytesTotal.Add(float64(newOffset - claimedOffset))

	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))

	length, err := h.sessions.UploadLength(id)
	if err != nil {
		slog.Error("PatchUpload reading length after append", "session", id, "error", err)
		writeError(w, uperr.ErrInternalError)
		return
	}
	if newOffset == length {
		info, err := h.sessions.Finalize(r.Context(), id, h.blobs)
		if err != nil {
			// The session stays on disk, complete; a retried PATCH at
			// the final offset re-attempts this finalize.
			slog.Error("PatchUpload finalize error", "session", id, "error", err)
			writeError(w, uperr.ErrInternalError)
			return
		}
		if !h.attachHandle(w, info) {
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// retryFinalize is the crash-recovery path for a session whose final chunk
// committed but whose finalize never ran: a PATCH at the final offset
// re-attempts the transfer and answers like the original completing request.
// Any other PATCH against a complete session stays 410.
func (h *UploadHandler) retryFinalize(w http.ResponseWriter, r *http.Request, id string, claimedOffset int64) {
	length, err := h.sessions.UploadLength(id)
	if err != nil || claimedOffset != length {
		writeError(w, uperr.ErrGone)
		return
	}

	info, err := h.sessions.Finalize(r.Context(), id, h.blobs)
	if err != nil {
		slog.Error("PatchUpload finalize retry error", "session", id, "error", err)
		writeError(w, uperr.ErrInternalError)
		return
	}
	w.Header().Set("Upload-Offset", strconv.FormatInt(length, 10))
	if !h.attachHandle(w, info) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// attachHandle signs the finalized blob's id and sets the X-Signed-Id
// header. Reports false after writing an error response.
func (h *UploadHandler) attachHandle(w http.ResponseWriter, info *blob.Info) bool {
	handle, err := h.signer.Sign(info.ID)
	if err != nil {
		slog.Error("signing blob handle", "blob", info.ID, "error", err)
		writeError(w, uperr.ErrInternalError)
		return false
	}
	metrics.UploadsFinalizedTotal.Inc()
	w.Header().Set("X-Signed-Id", handle)
	return true
}

// writeStoreError maps upload store errors onto HTTP responses.
func (h *UploadHandler) writeStoreError(w http.ResponseWriter, err error) {
	var ue *uperr.UploadError
	if errors.As(err, &ue) {
		writeError(w, ue)
		return
	}
	slog.Error("upload store error", "error", err)
	writeError(w, uperr.ErrInternalError)
}
