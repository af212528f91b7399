package detection

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// LabelDetector is the subset of the Rekognition client used here
type LabelDetector interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// genericLabels are returned for almost every plate and say nothing about the dish.
var genericLabels = map[string]bool{
	"food": true, "meal": true, "dish": true, "plate": true, "lunch": true,
	"dinner": true, "breakfast": true, "produce": true, "plant": true,
	"cuisine": true, "platter": true, "tableware": true, "cutlery": true,
}

// RekognitionClassifier classifies images with AWS Rekognition DetectLabels
type RekognitionClassifier struct {
	client    LabelDetector
	maxLabels int32
}

// NewRekognitionClassifier creates a classifier backed by Rekognition
func NewRekognitionClassifier(client LabelDetector, maxLabels int32) *RekognitionClassifier {
	if maxLabels <= 0 {
		maxLabels = 20
	}
	return &RekognitionClassifier{client: client, maxLabels: maxLabels}
}

// Classify implements Classifier. Rekognition reports confidence as a percentage.
func (r *RekognitionClassifier) Classify(ctx context.Context, image []byte) ([]Prediction, error) {
	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(r.maxLabels),
		MinConfidence: aws.Float32(1),
	})
	if err != nil {
		return nil, err
	}

	preds := make([]Prediction, 0, len(out.Labels))
	for _, l := range out.Labels {
		name := aws.ToString(l.Name)
		if name == "" || genericLabels[strings.ToLower(name)] {
			continue
		}
		preds = append(preds, Prediction{
			Label: name,
			Score: float64(aws.ToFloat32(l.Confidence)) / 100,
		})
	}
	return preds, nil
}
