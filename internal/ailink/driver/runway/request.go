package runway

import (
	"fmt"
	"strings"

	"github.com/gifmotion/gifmotion/internal/ailink/driver"
)

// imageToVideoRequest is the POST /v1/image_to_video body.
type imageToVideoRequest struct {
	Model       string            `json:"model"`
	PromptImage string            `json:"promptImage"`
	PromptText  string            `json:"promptText"`
	Parameters  driver.Parameters `json:"parameters"`
}

func buildImageToVideoRequest(req *driver.VideoRequest) (*imageToVideoRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.PromptImage) == "" {
		return nil, fmt.Errorf("prompt image is required")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = DefaultModel
	}

	return &imageToVideoRequest{
		Model:       model,
		PromptImage: req.PromptImage,
		PromptText:  req.PromptText,
		Parameters:  req.Parameters,
	}, nil
}
