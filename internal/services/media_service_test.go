package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pstorage "github.com/northwear/api/internal/platform/storage"
)

type stubUploadSigner struct {
	signFunc func(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedURLResult, error)
}

func (s *stubUploadSigner) SignedUploadURL(ctx context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedURLResult, error) {
	if s.signFunc != nil {
		return s.signFunc(ctx, bucket, object, opts)
	}
	return pstorage.SignedURLResult{}, errors.New("not implemented")
}

type objectCopy struct {
	sourceBucket string
	sourceObject string
	destBucket   string
	destObject   string
}

type stubObjectCopier struct {
	copies []objectCopy
	err    error
}

func (s *stubObjectCopier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error {
	s.copies = append(s.copies, objectCopy{
		sourceBucket: sourceBucket,
		sourceObject: sourceObject,
		destBucket:   destBucket,
		destObject:   destObject,
	})
	return s.err
}

func newMediaServiceWith(t *testing.T, signer UploadURLSigner, copier ObjectCopier) MediaService {
	t.Helper()
	svc, err := NewMediaService(MediaServiceDeps{
		Signer:        signer,
		Copier:        copier,
		Bucket:        "northwear-media",
		PublicBaseURL: "https://cdn.northwear.example",
		IDGenerator:   func() string { return "u1" },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing media service: %v", err)
	}
	return svc
}

func TestMediaIssueSignedUploadStagesObject(t *testing.T) {
	expires := time.Date(2026, 6, 3, 12, 15, 0, 0, time.UTC)
	var signedObject string
	signer := &stubUploadSigner{
		signFunc: func(_ context.Context, bucket, object string, opts pstorage.UploadOptions) (pstorage.SignedURLResult, error) {
			if bucket != "northwear-media" {
				t.Fatalf("unexpected bucket %q", bucket)
			}
			if opts.ContentType != "image/jpeg" {
				t.Fatalf("expected upload options with content type, got %+v", opts)
			}
			signedObject = object
			return pstorage.SignedURLResult{URL: "https://signed.example/put", ExpiresAt: expires}, nil
		},
	}
	svc := newMediaServiceWith(t, signer, nil)

	upload, err := svc.IssueSignedUpload(context.Background(), SignedUploadCommand{
		ActorID:     "staff-1",
		Kind:        "product-image",
		FileName:    "cover.jpg",
		ContentType: "image/jpeg",
		SizeBytes:   2048,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if upload.ObjectKey != "uploads/media/products/u1/cover.jpg" {
		t.Fatalf("expected staged object key, got %q", upload.ObjectKey)
	}
	if signedObject != upload.ObjectKey {
		t.Fatalf("expected signer to receive the staged key, got %q", signedObject)
	}
	if upload.PublicURL != "https://cdn.northwear.example/media/products/u1/cover.jpg" {
		t.Fatalf("expected public url for the final key, got %q", upload.PublicURL)
	}
	if upload.UploadURL != "https://signed.example/put" || !upload.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected upload %+v", upload)
	}
}

func TestMediaIssueSignedUploadRejectsInvalidRequests(t *testing.T) {
	svc := newMediaServiceWith(t, &stubUploadSigner{}, nil)

	cases := []struct {
		name string
		cmd  SignedUploadCommand
	}{
		{name: "unknown kind", cmd: SignedUploadCommand{Kind: "avatar", ContentType: "image/png", SizeBytes: 10}},
		{name: "disallowed content type", cmd: SignedUploadCommand{Kind: "product-image", ContentType: "application/pdf", SizeBytes: 10}},
		{name: "missing size", cmd: SignedUploadCommand{Kind: "product-image", ContentType: "image/png"}},
		{name: "oversized", cmd: SignedUploadCommand{Kind: "product-image", ContentType: "image/png", SizeBytes: maxImageUploadSize + 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.IssueSignedUpload(context.Background(), tc.cmd); !errors.Is(err, ErrMediaInvalidInput) {
				t.Fatalf("expected ErrMediaInvalidInput, got %v", err)
			}
		})
	}
}

func TestMediaPromoteUploadCopiesToFinalKey(t *testing.T) {
	copier := &stubObjectCopier{}
	svc := newMediaServiceWith(t, &stubUploadSigner{}, copier)

	promoted, err := svc.PromoteUpload(context.Background(), PromoteUploadCommand{
		ActorID:   "staff-1",
		ObjectKey: "uploads/media/products/u1/cover.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(copier.copies) != 1 {
		t.Fatalf("expected one copy, got %d", len(copier.copies))
	}
	rec := copier.copies[0]
	if rec.sourceObject != "uploads/media/products/u1/cover.jpg" || rec.destObject != "media/products/u1/cover.jpg" {
		t.Fatalf("unexpected copy %+v", rec)
	}
	if rec.sourceBucket != "northwear-media" || rec.destBucket != "northwear-media" {
		t.Fatalf("expected copy within the media bucket, got %+v", rec)
	}
	if promoted.ObjectKey != "media/products/u1/cover.jpg" {
		t.Fatalf("unexpected promoted key %q", promoted.ObjectKey)
	}
	if promoted.PublicURL != "https://cdn.northwear.example/media/products/u1/cover.jpg" {
		t.Fatalf("unexpected public url %q", promoted.PublicURL)
	}
}

func TestMediaPromoteUploadRejectsUnstagedKeys(t *testing.T) {
	svc := newMediaServiceWith(t, &stubUploadSigner{}, &stubObjectCopier{})

	cases := []string{"", "media/products/u1/cover.jpg", "uploads/../secrets.json"}
	for _, key := range cases {
		if _, err := svc.PromoteUpload(context.Background(), PromoteUploadCommand{ObjectKey: key}); !errors.Is(err, ErrMediaInvalidInput) {
			t.Fatalf("expected ErrMediaInvalidInput for %q, got %v", key, err)
		}
	}
}

func TestMediaPromoteUploadWithoutCopier(t *testing.T) {
	svc := newMediaServiceWith(t, &stubUploadSigner{}, nil)

	_, err := svc.PromoteUpload(context.Background(), PromoteUploadCommand{ObjectKey: "uploads/media/products/u1/cover.jpg"})
	if !errors.Is(err, ErrMediaCopierUnavailable) {
		t.Fatalf("expected ErrMediaCopierUnavailable, got %v", err)
	}
}

func TestMediaPromoteUploadCopyFailure(t *testing.T) {
	copier := &stubObjectCopier{err: errors.New("copy failed")}
	svc := newMediaServiceWith(t, &stubUploadSigner{}, copier)

	_, err := svc.PromoteUpload(context.Background(), PromoteUploadCommand{ObjectKey: "uploads/media/products/u1/cover.jpg"})
	if err == nil || !strings.Contains(err.Error(), "copy failed") {
		t.Fatalf("expected copy error, got %v", err)
	}
}
