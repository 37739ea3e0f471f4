package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
)

type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// ImageExtractor runs Google Cloud Vision document text detection over image bytes.
type ImageExtractor struct {
	client  imageAnnotator
	timeout time.Duration
}

// NewImageExtractor uses application default credentials (GOOGLE_APPLICATION_CREDENTIALS).
func NewImageExtractor(ctx context.Context) (*ImageExtractor, error) {
	c, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &ImageExtractor{client: c, timeout: 60 * time.Second}, nil
}

func (e *ImageExtractor) Close() error {
	if e == nil || e.client == nil {
		return nil
	}
	return e.client.Close()
}

func (e *ImageExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image content")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	}
	resp, err := e.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	if r0.FullTextAnnotation == nil {
		return "", nil
	}
	return strings.TrimSpace(r0.FullTextAnnotation.Text), nil
}
