package vision

import (
	"context"
	"fmt"
	"os"
	"time"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/brandvault/dam-backend/internal/platform/logger"
)

// Label is one detected label with the provider's confidence in [0,1].
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Labeler produces tag suggestions for image bytes. Implementations must be
// safe for concurrent use by pipeline workers.
type Labeler interface {
	DetectLabels(ctx context.Context, img []byte, maxResults int) ([]Label, error)
	Close() error
}

type gcpLabeler struct {
	log    *logger.Logger
	client *visionapi.ImageAnnotatorClient
}

// New opens a GCP Vision labeler. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS_JSON or ADC.
func New(baseLog *logger.Logger) (Labeler, error) {
	serviceLog := baseLog.With("service", "VisionLabeler")
	ctx := context.Background()
	var opts []option.ClientOption
	if saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"); saPath != "" {
		opts = append(opts, option.WithCredentialsFile(saPath))
	}
	client, err := visionapi.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &gcpLabeler{log: serviceLog, client: client}, nil
}

func (s *gcpLabeler) DetectLabels(ctx context.Context, img []byte, maxResults int) ([]Label, error) {
	if len(img) == 0 {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: img},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: int32(maxResults)},
				},
			},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	out := make([]Label, 0, len(r0.LabelAnnotations))
	for _, ann := range r0.LabelAnnotations {
		if ann == nil || ann.Description == "" {
			continue
		}
		out = append(out, Label{Name: ann.Description, Confidence: float64(ann.Score)})
	}
	return out, nil
}

func (s *gcpLabeler) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Nop returns a labeler that detects nothing; used when Vision is not
// configured and in tests.
func Nop() Labeler { return nopLabeler{} }

type nopLabeler struct{}

func (nopLabeler) DetectLabels(context.Context, []byte, int) ([]Label, error) { return nil, nil }
func (nopLabeler) Close() error                                               { return nil }
