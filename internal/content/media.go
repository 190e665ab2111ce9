package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sashabaranov/go-openai"
)

type imageAPI interface {
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// OpenAIMediaGenerator renders an image with the OpenAI images API and
// stores it in S3 under key.
type OpenAIMediaGenerator struct {
	images    imageAPI
	store     s3API
	model     string
	bucket    string
	publicURL string
}

func NewOpenAIMediaGenerator(apiKey, imageModel string, awsCfg aws.Config, bucket, publicURL string) *OpenAIMediaGenerator {
	return &OpenAIMediaGenerator{
		images:    openai.NewClient(apiKey),
		store:     s3.NewFromConfig(awsCfg),
		model:     imageModel,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (g *OpenAIMediaGenerator) GenerateImage(ctx context.Context, prompt, key string) (string, error) {
	resp, err := g.images.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai image failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("openai returned no image data")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	_, err = g.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(img),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return g.publicURL + "/" + key, nil
}
