// SPDX-License-Identifier: MIT

package retention

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/util"
)

// ObjectStoreBackend pages through a bucket's object listing and yields
// objects older than the retention window.
//
// Reference: surveillance/sinks/aws_bucket.py's bucket access pattern,
// generalized to the listing side with aws-sdk-go-v2's ListObjectsV2
// paginator in place of a hand-rolled continuation-token loop.
type ObjectStoreBackend struct {
	name      string
	bucket    string
	keyPrefix string
	client    *s3.Client
}

// NewObjectStoreBackend builds a backend over bucket/keyPrefix using client.
func NewObjectStoreBackend(name, bucket, keyPrefix string, client *s3.Client) *ObjectStoreBackend {
	return &ObjectStoreBackend{name: name, bucket: bucket, keyPrefix: keyPrefix, client: client}
}

func (o *ObjectStoreBackend) Name() string { return o.name }

func (o *ObjectStoreBackend) ListExpired(ctx context.Context, retentionDays int) (<-chan Item, <-chan error) {
	items := make(chan Item)
	errs := make(chan error, 1)

	if retentionDays <= 0 {
		close(items)
		close(errs)
		return items, errs
	}

	threshold := Threshold(retentionDays, time.Now())

	util.SafeGo("retention-objectstore-list-"+o.name, nil, func() {
		defer close(items)
		defer close(errs)

		paginator := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(o.bucket),
			Prefix: aws.String(o.keyPrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				errs <- rerror.Wrap(rerror.KindNetwork, "list objects", err)
				return
			}
			for _, obj := range page.Contents {
				if obj.LastModified == nil || !obj.LastModified.Before(threshold) {
					continue
				}
				select {
				case items <- &objectItem{
					key:     aws.ToString(obj.Key),
					modTime: *obj.LastModified,
					client:  o.client,
					bucket:  o.bucket,
				}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}, nil)

	return items, errs
}

type objectItem struct {
	key     string
	modTime time.Time
	client  *s3.Client
	bucket  string
}

func (i *objectItem) Path() string       { return i.key }
func (i *objectItem) ModTime() time.Time { return i.modTime }

func (i *objectItem) Remove() error {
	_, err := i.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(i.bucket),
		Key:    aws.String(i.key),
	})
	if err != nil {
		return rerror.Wrap(rerror.KindNetwork, "delete object "+i.key, err)
	}
	return nil
}
