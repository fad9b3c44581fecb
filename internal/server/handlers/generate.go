package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/ailink"
	apperrors "github.com/gifmotion/gifmotion/internal/errors"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/server/middleware"
)

// DefaultMaxUploadBytes caps the inbound form body.
const DefaultMaxUploadBytes int64 = 32 << 20

// multipartMemory is how much of a multipart body is held in memory before
// file parts spill to disk.
const multipartMemory = 8 << 20

// VideoGenerator runs one image-to-video generation.
type VideoGenerator interface {
	Generate(ctx context.Context, image, prompt string) (*ailink.Result, error)
}

// GenerateHandler serves POST /api/generate.
type GenerateHandler struct {
	Generator VideoGenerator
	// Images encodes uploaded file parts. Nil uses a zero resolver.
	Images         *ailink.ImageResolver
	MaxUploadBytes int64
}

// NewGenerateHandler wires a handler around gen.
func NewGenerateHandler(gen *ailink.Generator) *GenerateHandler {
	if gen == nil {
		return &GenerateHandler{}
	}
	return &GenerateHandler{Generator: gen, Images: gen.Images}
}

func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.Generator == nil {
		respondWithError(w, r, apperrors.NewConfigInvalidError("generation is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	if err := parseForm(r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewValidationError(
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		respondWithError(w, r, apperrors.WrapValidationError(ctx, err, "Invalid form submission"))
		return
	}

	prompt := r.PostFormValue("promptText")
	image := strings.TrimSpace(r.PostFormValue("image"))
	upload := imageUpload(r)
	if prompt == "" || (image == "" && upload == nil) {
		respondWithError(w, r, apperrors.NewValidationError("Missing required fields"))
		return
	}

	if image == "" {
		encoded, err := h.encodeUpload(upload)
		if err != nil {
			genErr := &ailink.Error{Kind: ailink.KindInvalidImageFormat, Detail: err.Error(), Err: err}
			respondWithError(w, r, generationEnvelope(ctx, genErr))
			return
		}
		image = encoded
	}

	result, err := h.Generator.Generate(ctx, image, prompt)
	if err != nil {
		respondWithError(w, r, generationEnvelope(ctx, err))
		return
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Generation succeeded",
			zap.String("task_id", result.ID),
			zap.Int("attempts", result.Attempts),
			zap.String("request_id", middleware.GetRequestID(ctx)))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *GenerateHandler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func (h *GenerateHandler) encodeUpload(upload *multipart.FileHeader) (string, error) {
	f, err := upload.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %q: %w", upload.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload %q: %w", upload.Filename, err)
	}

	resolver := h.Images
	if resolver == nil {
		resolver = &ailink.ImageResolver{}
	}
	return resolver.FromBytes(data)
}

// imageUpload returns the first "image" file part, or nil.
func imageUpload(r *http.Request) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	headers := r.MultipartForm.File["image"]
	if len(headers) == 0 {
		return nil
	}
	return headers[0]
}

func parseForm(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// generationEnvelope maps a Generate failure to its response envelope.
// Generation kinds keep their message text and answer 500.
func generationEnvelope(ctx context.Context, err error) error {
	var genErr *ailink.Error
	if errors.As(err, &genErr) {
		env := apperrors.NewGenerationError(ctx, genErr.Code(), err, genErr.Error())
		if genErr.TaskID != "" {
			env = env.WithDetails(map[string]interface{}{"task_id": genErr.TaskID})
		}
		return env
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.WrapUnavailable(ctx, err, "Generation cancelled")
	}

	return apperrors.WrapInternal(ctx, err, err.Error())
}
