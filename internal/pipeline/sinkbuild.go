// SPDX-License-Identifier: MIT

package pipeline

import (
	"fmt"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/sink"
)

// BuildSink constructs the concrete Sink a storage descriptor names, one
// per camera/storage pair. root is the filesystem root new FileSinks are
// rooted under (the supervisor joins its configured base dir with the
// camera name before calling this).
func BuildSink(name string, st *camera.Storage, root string) (sink.Sink, error) {
	switch st.Kind {
	case camera.StorageKindLocal:
		return sink.NewFileSink(name, root)
	case camera.StorageKindObject:
		return sink.NewObjectStoreSink(name, sink.ObjectStoreConfig{
			Bucket:      st.Bucket,
			KeyPrefix:   st.KeyPrefix,
			Region:      st.Region,
			Endpoint:    st.Endpoint,
			AccessKeyID: st.AccessKeyID,
			SecretKey:   st.SecretKey,
			Timeout:     st.Timeout,
		})
	case camera.StorageKindBroadcast:
		return sink.NewBroadcastSink(name, sink.BroadcastConfig{
			APIURL:  st.BroadcastAPIURL,
			Token:   st.BroadcastToken,
			Timeout: st.Timeout,
		}), nil
	default:
		return nil, rerror.New(rerror.KindInternal, fmt.Sprintf("storage %q: unknown kind %q", name, st.Kind))
	}
}
