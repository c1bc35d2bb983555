package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/imaging"
)

type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*imaging.Image, error)
}

// ImageHandler serves generated images as PNG attachments.
type ImageHandler struct {
	Images ImageFetcher
	Logger *slog.Logger
}

func (h *ImageHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Download handles GET /api/v1/images/download?url=.
func (h *ImageHandler) Download(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("url")
	if src == "" {
		writeError(w, generation.Errorf(generation.CodeValidation, "url is required"))
		return
	}

	img, err := h.Images.Fetch(r.Context(), src)
	if err != nil {
		var fe *imaging.FetchError
		switch {
		case errors.Is(err, imaging.ErrInvalidURL), errors.Is(err, imaging.ErrForbiddenHost),
			errors.Is(err, imaging.ErrTooLarge), errors.Is(err, imaging.ErrUnsupported):
			writeError(w, generation.Errorf(generation.CodeValidation, "%v", err))
		case errors.As(err, &fe):
			h.logger().Warn("image download failed", "error", err)
			writeError(w, &generation.Error{Code: generation.CodeUpstream, Message: "failed to fetch image", Err: err})
		default:
			h.logger().Error("image conversion failed", "error", err)
			writeError(w, generation.Classify(err))
		}
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(img.PNG)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.PNG)
}
