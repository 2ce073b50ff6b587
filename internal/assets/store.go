// Package assets mirrors item media between object-storage buckets. The
// authoring bucket holds media referenced by raw documents; a sync copies
// the item's prefix into the delivery bucket so published documents keep
// resolving.
package assets

import (
	"context"
	"fmt"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client    *minio.Client
	authoring string
	delivery  string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Authoring string
	Delivery  string
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, authoring: cfg.Authoring, delivery: cfg.Delivery}, nil
}

// Mirror copies every object under prefix from the authoring bucket to
// the delivery bucket. Server-side copy; objects already present are
// overwritten so the delivery side converges on the authoring state.
func (s *Store) Mirror(ctx context.Context, prefix string) error {
	objects := s.client.ListObjects(ctx, s.authoring, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	copied := 0
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list %s/%s: %w", s.authoring, prefix, obj.Err)
		}
		_, err := s.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: s.delivery, Object: obj.Key},
			minio.CopySrcOptions{Bucket: s.authoring, Object: obj.Key},
		)
		if err != nil {
			return fmt.Errorf("copy %s: %w", obj.Key, err)
		}
		copied++
	}
	if copied > 0 {
		log.Printf("assets: mirrored %d object(s) under %s", copied, prefix)
	}
	return nil
}

// Ping verifies the authoring bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.authoring)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.authoring, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.authoring)
	}
	return nil
}
