package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxAvatarSize    = 5 * 1024 * 1024
	presignedURLTTL  = 15 * time.Minute
	avatarPathPrefix = "avatars"
)

var (
	ErrFileTooBig           = errors.New("file size exceeds 5MB limit")
	ErrInvalidFileType      = errors.New("invalid file type, only JPEG and PNG images are allowed")
	ErrBucketCreationFailed = errors.New("failed to create storage bucket")
	ErrUploadFailed         = errors.New("failed to upload file")
	ErrDeleteFailed         = errors.New("failed to delete file")
	ErrURLGenerationFailed  = errors.New("failed to generate presigned URL")
	ErrUnauthorizedAccess   = errors.New("unauthorized access to resource")

	allowedContentTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
	}
)

// AvatarStorage keeps avatar images under a per-user key prefix.
type AvatarStorage interface {
	UploadAvatar(ctx context.Context, userID uint, file io.Reader, fileSize int64) (string, error)
	// DeleteAvatar removes objectKey after checking it lives under userID's prefix.
	DeleteAvatar(ctx context.Context, userID uint, objectKey string) error
	// DeleteUserAvatars removes every object under userID's prefix and reports how many were removed.
	DeleteUserAvatars(ctx context.Context, userID uint) (int, error)
	AvatarURL(ctx context.Context, objectKey string) (string, error)
}

func avatarPrefix(userID uint) string {
	return avatarPathPrefix + "/user-" + strconv.FormatUint(uint64(userID), 10) + "/"
}

// IsAvatarKey reports whether image is an object key owned by userID rather
// than a provider picture URL.
func IsAvatarKey(userID uint, image string) bool {
	return strings.HasPrefix(image, avatarPrefix(userID)) && !strings.Contains(image, "..")
}

// sniffAvatar reads the leading bytes of file and validates the detected
// content type. The returned reader replays the sniffed bytes.
func sniffAvatar(file io.Reader, fileSize int64) (io.Reader, string, error) {
	if fileSize <= 0 {
		return nil, "", ErrInvalidFileType
	}
	if fileSize > maxAvatarSize {
		return nil, "", ErrFileTooBig
	}
	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", fmt.Errorf("%w: read file for content detection: %v", ErrUploadFailed, err)
	}
	buf = buf[:n]
	detected := strings.ToLower(strings.TrimSpace(http.DetectContentType(buf)))
	if _, ok := allowedContentTypes[detected]; !ok {
		return nil, "", ErrInvalidFileType
	}
	return io.MultiReader(bytes.NewReader(buf), file), detected, nil
}

type MinIOStorageService struct {
	client     *minio.Client
	bucketName string
	initOnce   sync.Once
	initErr    error
}

// NewMinIOStorageService creates the client only; the bucket is created on first use.
func NewMinIOStorageService(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOStorageService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStorageService{client: client, bucketName: bucketName}, nil
}

func (s *MinIOStorageService) lazyInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.ensureBucketExists(ctx)
	})
	return s.initErr
}

func (s *MinIOStorageService) ensureBucketExists(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
		}
	}
	return nil
}

// Ping reports whether the avatar bucket is reachable.
func (s *MinIOStorageService) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucketName); err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucketName, err)
	}
	return nil
}

// UploadAvatar validates the payload by its bytes, not the client's content type.
func (s *MinIOStorageService) UploadAvatar(ctx context.Context, userID uint, file io.Reader, fileSize int64) (string, error) {
	body, contentType, err := sniffAvatar(file, fileSize)
	if err != nil {
		return "", err
	}
	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}
	objectKey := avatarPrefix(userID) + uuid.NewString() + allowedContentTypes[contentType]
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, body, fileSize, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"User-ID":     strconv.FormatUint(uint64(userID), 10),
			"Uploaded-At": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return objectKey, nil
}

func (s *MinIOStorageService) DeleteAvatar(ctx context.Context, userID uint, objectKey string) error {
	if strings.TrimSpace(objectKey) == "" {
		return nil
	}
	if !IsAvatarKey(userID, objectKey) {
		return ErrUnauthorizedAccess
	}
	if err := s.lazyInit(ctx); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

func (s *MinIOStorageService) DeleteUserAvatars(ctx context.Context, userID uint) (int, error) {
	if err := s.lazyInit(ctx); err != nil {
		return 0, err
	}
	objects := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    avatarPrefix(userID),
		Recursive: true,
	})
	removed := 0
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("%w: list: %v", ErrDeleteFailed, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrDeleteFailed, err)
		}
		removed++
	}
	return removed, nil
}

func (s *MinIOStorageService) AvatarURL(ctx context.Context, objectKey string) (string, error) {
	if strings.TrimSpace(objectKey) == "" {
		return "", fmt.Errorf("%w: empty object key", ErrURLGenerationFailed)
	}
	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, presignedURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrURLGenerationFailed, err)
	}
	return u.String(), nil
}

// NoopAvatarStorage is used when object storage is disabled.
type NoopAvatarStorage struct{}

var errAvatarStorageDisabled = errors.New("avatar storage is disabled")

func (NoopAvatarStorage) UploadAvatar(context.Context, uint, io.Reader, int64) (string, error) {
	return "", errAvatarStorageDisabled
}

func (NoopAvatarStorage) DeleteAvatar(context.Context, uint, string) error { return nil }

func (NoopAvatarStorage) DeleteUserAvatars(context.Context, uint) (int, error) { return 0, nil }

func (NoopAvatarStorage) AvatarURL(context.Context, string) (string, error) {
	return "", errAvatarStorageDisabled
}
