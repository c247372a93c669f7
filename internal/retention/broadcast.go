// SPDX-License-Identifier: MIT

package retention

import (
	"context"
	"time"

	"github.com/chponte/libreeye/internal/broadcastapi"
	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/util"
)

// BroadcastBackend pages through a broadcast provider's completed-events
// listing and yields events whose end time is older than the retention
// window, capturing a prepared delete action in each item.
//
// Reference: storage/youtube.py's YoutubeStorage.list_expired, which
// paginates liveBroadcasts().list(broadcastStatus='completed') and
// compares snippet.actualEndTime against the retention threshold.
type BroadcastBackend struct {
	name   string
	client *broadcastapi.Client
}

// NewBroadcastBackend builds a backend over client.
func NewBroadcastBackend(name string, client *broadcastapi.Client) *BroadcastBackend {
	return &BroadcastBackend{name: name, client: client}
}

func (b *BroadcastBackend) Name() string { return b.name }

func (b *BroadcastBackend) ListExpired(ctx context.Context, retentionDays int) (<-chan Item, <-chan error) {
	items := make(chan Item)
	errs := make(chan error, 1)

	if retentionDays <= 0 {
		close(items)
		close(errs)
		return items, errs
	}

	threshold := Threshold(retentionDays, time.Now())

	util.SafeGo("retention-broadcast-list-"+b.name, nil, func() {
		defer close(items)
		defer close(errs)

		pageToken := ""
		for {
			list, err := b.client.ListBroadcasts(ctx, pageToken)
			if err != nil {
				errs <- rerror.Wrap(rerror.KindNetwork, "list broadcasts", err)
				return
			}
			for _, bc := range list.Items {
				if bc.EndedAt == "" {
					continue
				}
				ended, err := time.Parse(time.RFC3339, bc.EndedAt)
				if err != nil {
					continue
				}
				if !ended.Before(threshold) {
					continue
				}
				select {
				case items <- &broadcastItem{id: bc.ID, endedAt: ended, client: b.client}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if list.NextPageToken == "" {
				return
			}
			pageToken = list.NextPageToken
		}
	}, nil)

	return items, errs
}

type broadcastItem struct {
	id      string
	endedAt time.Time
	client  *broadcastapi.Client
}

func (i *broadcastItem) Path() string       { return i.id }
func (i *broadcastItem) ModTime() time.Time { return i.endedAt }

func (i *broadcastItem) Remove() error {
	if err := i.client.DeleteBroadcast(context.Background(), i.id); err != nil {
		return rerror.Wrap(rerror.KindNetwork, "delete broadcast "+i.id, err)
	}
	return nil
}
