package oss

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"
)

const defaultFolder = "multimodal_images"

type objectPutter interface {
	PutObjectFromFile(objectKey, filePath string, options ...alioss.Option) error
}

// Uploader publishes local images to a bucket with a public-read ACL.
type Uploader struct {
	bucket   objectPutter
	name     string
	endpoint string
	folder   string
}

func NewUploader(aliyun *config.AliyunConfig, cfg *config.OSSConfig) (*Uploader, error) {
	const op = "oss.NewUploader"
	client, err := alioss.New(cfg.Endpoint, aliyun.AccessKeyID, aliyun.AccessKeySecret)
	if err != nil {
		return nil, models.NewError(models.KindAuthFailure, op, err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, models.NewError(models.KindRemoteFailure, op, err)
	}
	return newUploader(bucket, cfg), nil
}

func newUploader(bucket objectPutter, cfg *config.OSSConfig) *Uploader {
	folder := cfg.Folder
	if folder == "" {
		folder = defaultFolder
	}
	return &Uploader{bucket: bucket, name: cfg.Bucket, endpoint: cfg.Endpoint, folder: folder}
}

// ObjectKey is folder/<basename of localPath>.
func (u *Uploader) ObjectKey(localPath string) string {
	return path.Join(u.folder, filepath.Base(localPath))
}

// PublicURL is the anonymous http URL of key in the bucket.
func (u *Uploader) PublicURL(key string) string {
	return fmt.Sprintf("http://%s.%s/%s", u.name, u.endpoint, key)
}

// Upload stores localPath under its basename and returns the public URL.
// Existing objects with the same key are overwritten.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	const op = "oss.Upload"
	if _, err := os.Stat(localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", models.NewError(models.KindNotFound, op, err)
		}
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := u.ObjectKey(localPath)
	if err := u.bucket.PutObjectFromFile(key, localPath, alioss.ObjectACL(alioss.ACLPublicRead)); err != nil {
		return "", models.NewError(models.KindRemoteFailure, op, err)
	}

	publicURL := u.PublicURL(key)
	log.Info().Str("key", key).Str("url", publicURL).Msg("Uploaded image to OSS")
	return publicURL, nil
}
