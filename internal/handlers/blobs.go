package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sealbox/sealbox/internal/blob"
	uperr "github.com/sealbox/sealbox/internal/errors"
	"github.com/sealbox/sealbox/internal/signing"
)

// BlobHandler serves finalized blobs to holders of a signed handle.
type BlobHandler struct {
	blobs  *blob.Store
	signer *signing.Signer
}

// NewBlobHandler creates a BlobHandler with the given dependencies.
func NewBlobHandler(blobs *blob.Store, signer *signing.Signer) *BlobHandler {
	return &BlobHandler{blobs: blobs, signer: signer}
}

// GetBlob handles GET /blobs/{handle}: verifies the signed handle and streams
// the blob's content. An invalid or expired handle is indistinguishable from
// a missing blob.
func (h *BlobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	blobID, err := h.signer.Verify(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, uperr.ErrNotFound)
		return
	}

	rc, info, err := h.blobs.Open(r.Context(), blobID)
	if err != nil {
		var ue *uperr.UploadError
		if errors.As(err, &ue) {
			writeError(w, ue)
			return
		}
		slog.Error("GetBlob open error", "blob", blobID, "error", err)
		writeError(w, uperr.ErrInternalError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Filename}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("GetBlob streaming error", "blob", blobID, "error", err)
	}
}
