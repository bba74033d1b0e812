package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	botconfig "github.com/disgoorg/auction-bot/auctionbot/config"
)

var ErrImageTooLarge = errors.New("image is too large")

// ObjectPutter is the part of the S3 client the mirror uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ImageSource describes an uploaded attachment.
type ImageSource struct {
	URL         string
	Filename    string
	ContentType string
	Size        int
}

// ValidateImage checks the attachment type and size before anything is downloaded.
func ValidateImage(img ImageSource, maxSize int) error {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(img.ContentType, ";")[0]))
	if !slices.Contains(botconfig.AllowedImageTypes, contentType) {
		return fmt.Errorf("unsupported image type %q for %s", img.ContentType, img.Filename)
	}
	if maxSize > 0 && img.Size > maxSize {
		return fmt.Errorf("%s is %d bytes: %w", img.Filename, img.Size, ErrImageTooLarge)
	}
	return nil
}

// SpacesService copies auction images into a Spaces bucket so the auction
// keeps working after the Discord CDN link expires.
type SpacesService struct {
	client  ObjectPutter
	http    *http.Client
	bucket  string
	region  string
	root    string
	baseURL string
	maxSize int
}

func NewSpacesService(ctx context.Context, spacesKey, spacesSecret, region, bucket, endpoint, root string, maxSize int) (*SpacesService, error) {
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.digitaloceanspaces.com", region)
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(spacesKey, spacesSecret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load Spaces config: %w", err)
	}

	baseURL := fmt.Sprintf("https://%s.%s", bucket, strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://"))
	return newSpacesService(s3.NewFromConfig(cfg), bucket, region, root, baseURL, maxSize), nil
}

func newSpacesService(client ObjectPutter, bucket, region, root, baseURL string, maxSize int) *SpacesService {
	return &SpacesService{
		client:  client,
		http:    &http.Client{Timeout: 30 * time.Second},
		bucket:  bucket,
		region:  region,
		root:    strings.Trim(root, "/"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		maxSize: maxSize,
	}
}

func (s *SpacesService) GetBucket() string {
	return s.bucket
}

func (s *SpacesService) GetRegion() string {
	return s.region
}

func (s *SpacesService) objectKey(guildID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".png"
	}
	return path.Join(s.root, "auctions", guildID, uuid.NewString()+ext)
}

// MirrorImage downloads the attachment and stores a public copy. It returns
// the URL of the copy.
func (s *SpacesService) MirrorImage(ctx context.Context, guildID string, img ImageSource) (string, error) {
	if err := ValidateImage(img, s.maxSize); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", img.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %d", img.Filename, resp.StatusCode)
	}

	limit := int64(s.maxSize)
	if limit <= 0 {
		limit = botconfig.MaxImageSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", img.Filename, err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%s: %w", img.Filename, ErrImageTooLarge)
	}

	key := s.objectKey(guildID, img.Filename)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(img.ContentType),
		CacheControl: aws.String("public, max-age=31536000"),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", img.Filename, err)
	}

	slog.Debug("Mirrored auction image",
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return s.baseURL + "/" + key, nil
}

// MirrorImages mirrors every image, keeping the original URL for any that fail.
func (s *SpacesService) MirrorImages(ctx context.Context, guildID string, imgs []ImageSource) []string {
	urls := make([]string, len(imgs))
	for i, img := range imgs {
		url, err := s.MirrorImage(ctx, guildID, img)
		if err != nil {
			slog.Warn("Failed to mirror auction image, keeping Discord URL",
				slog.String("filename", img.Filename),
				slog.Any("error", err))
			url = img.URL
		}
		urls[i] = url
	}
	return urls
}
