package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	pstorage "github.com/northwear/api/internal/platform/storage"
)

const (
	maxImageUploadSize = int64(10 * 1024 * 1024) // 10 MiB
	uploadURLExpiry    = 15 * time.Minute

	stagingPrefix = "uploads/"
)

var (
	// ErrMediaInvalidInput indicates the caller provided an invalid argument.
	ErrMediaInvalidInput = errors.New("media service: invalid input")
	// ErrMediaSignerUnavailable indicates the storage signer is not configured.
	ErrMediaSignerUnavailable = errors.New("media service: signer unavailable")
	// ErrMediaCopierUnavailable indicates the object copier is not configured.
	ErrMediaCopierUnavailable = errors.New("media service: copier unavailable")
)

var imageContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

var mediaKindPurposes = map[string]pstorage.AssetPurpose{
	"product-image":  pstorage.PurposeProductImage,
	"category-image": pstorage.PurposeCategoryImage,
}

// UploadURLSigner is the slice of the storage client the media service needs.
type UploadURLSigner interface {
	SignedUploadURL(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedURLResult, error)
}

// ObjectCopier moves uploaded objects from the staging prefix to their final
// location once an admin confirms them.
type ObjectCopier interface {
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error
}

// MediaServiceDeps wires dependencies for the media service implementation.
type MediaServiceDeps struct {
	Signer        UploadURLSigner
	Copier        ObjectCopier
	Bucket        string
	PublicBaseURL string
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type mediaService struct {
	signer        UploadURLSigner
	copier        ObjectCopier
	bucket        string
	publicBaseURL string
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewMediaService constructs a MediaService issuing signed upload URLs for
// catalog imagery.
func NewMediaService(deps MediaServiceDeps) (MediaService, error) {
	if deps.Signer == nil {
		return nil, errors.New("media service: signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("media service: bucket is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &mediaService{
		signer:        deps.Signer,
		copier:        deps.Copier,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/"),
		newID:         idGen,
		logger:        logger,
	}, nil
}

// IssueSignedUpload validates the request and returns a time-limited PUT URL
// for the staging prefix, plus the public URL the object will be served from
// once it is promoted.
func (s *mediaService) IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedUpload, error) {
	kind := strings.ToLower(strings.TrimSpace(cmd.Kind))
	purpose, ok := mediaKindPurposes[kind]
	if !ok {
		return SignedUpload{}, fmt.Errorf("%w: upload kind %q not allowed", ErrMediaInvalidInput, cmd.Kind)
	}

	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		return SignedUpload{}, fmt.Errorf("%w: content type is required", ErrMediaInvalidInput)
	}
	if !imageContentTypeAllowed(contentType) {
		return SignedUpload{}, fmt.Errorf("%w: content type %q not allowed", ErrMediaInvalidInput, contentType)
	}
	if cmd.SizeBytes <= 0 {
		return SignedUpload{}, fmt.Errorf("%w: size must be positive", ErrMediaInvalidInput)
	}
	if cmd.SizeBytes > maxImageUploadSize {
		return SignedUpload{}, fmt.Errorf("%w: size exceeds maximum (%d)", ErrMediaInvalidInput, maxImageUploadSize)
	}

	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		fileName = fmt.Sprintf("image-%s", strings.ToLower(s.newID()))
	}

	objectKey, err := pstorage.BuildObjectPath(purpose, pstorage.PathParams{
		UploadID: s.newID(),
		FileName: fileName,
	})
	if err != nil {
		return SignedUpload{}, fmt.Errorf("%w: %v", ErrMediaInvalidInput, err)
	}
	stagingKey := stagingPrefix + objectKey

	result, err := s.signer.SignedUploadURL(ctx, s.bucket, stagingKey, pstorage.UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: imageContentTypes,
		MaxSize:             maxImageUploadSize,
		ExpiresIn:           uploadURLExpiry,
	})
	if err != nil {
		return SignedUpload{}, fmt.Errorf("%w: %v", ErrMediaSignerUnavailable, err)
	}

	s.logger(ctx, "media.upload_issued", map[string]any{
		"actorId":   cmd.ActorID,
		"kind":      kind,
		"objectKey": stagingKey,
		"size":      cmd.SizeBytes,
	})

	return SignedUpload{
		UploadURL: result.URL,
		PublicURL: s.publicURL(objectKey),
		ObjectKey: stagingKey,
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// PromoteUpload copies a staged object to its final location and returns the
// public URL to store on the product or category.
func (s *mediaService) PromoteUpload(ctx context.Context, cmd PromoteUploadCommand) (PromotedMedia, error) {
	objectKey := strings.TrimSpace(cmd.ObjectKey)
	if objectKey == "" {
		return PromotedMedia{}, fmt.Errorf("%w: object key is required", ErrMediaInvalidInput)
	}
	if !strings.HasPrefix(objectKey, stagingPrefix) {
		return PromotedMedia{}, fmt.Errorf("%w: object key %q is not a staged upload", ErrMediaInvalidInput, objectKey)
	}
	if strings.Contains(objectKey, "..") {
		return PromotedMedia{}, fmt.Errorf("%w: object key contains invalid traversal sequence", ErrMediaInvalidInput)
	}
	if s.copier == nil {
		return PromotedMedia{}, ErrMediaCopierUnavailable
	}

	finalKey := strings.TrimPrefix(objectKey, stagingPrefix)
	if err := s.copier.CopyObject(ctx, s.bucket, objectKey, s.bucket, finalKey); err != nil {
		return PromotedMedia{}, fmt.Errorf("media service: promote %s: %w", objectKey, err)
	}

	s.logger(ctx, "media.upload_promoted", map[string]any{
		"actorId":   cmd.ActorID,
		"objectKey": finalKey,
	})

	return PromotedMedia{
		ObjectKey: finalKey,
		PublicURL: s.publicURL(finalKey),
	}, nil
}

func (s *mediaService) publicURL(objectKey string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + objectKey
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectKey)
}

func imageContentTypeAllowed(contentType string) bool {
	for _, candidate := range imageContentTypes {
		if contentType == candidate {
			return true
		}
	}
	return false
}
