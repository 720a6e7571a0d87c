package registrystore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"github.com/tangramdotdev/tangram/internal/id"
)

func (s *Store) repoRef() (name.Repository, error) {
	repo, err := name.NewRepository(s.Repo)
	if err != nil {
		return name.Repository{}, fmt.Errorf("registrystore: invalid repository %q: %w", s.Repo, err)
	}
	return repo, nil
}

// layerFor resolves objID to the uncompressed layer already uploaded
// under this repository's digest index.
func (s *Store) layerFor(ctx context.Context, objID id.ID) (v1.Layer, error) {
	repo, err := s.repoRef()
	if err != nil {
		return nil, err
	}
	digestRef := repo.Digest(s.digest(objID).String())
	desc, err := remote.Get(digestRef, s.Options...)
	if err != nil {
		return nil, err
	}
	img, err := desc.Image()
	if err != nil {
		// Objects are stored as single-layer synthetic images so each
		// one is addressable by its own digest without a manifest list.
		return nil, err
	}
	layers, err := img.Layers()
	if err != nil || len(layers) == 0 {
		return nil, fmt.Errorf("registrystore: no layer for %s", objID)
	}
	return layers[0], nil
}

// blobLayer wraps raw bytes as an uncompressed v1.Layer suitable for
// remote.WriteLayer.
func blobLayer(data []byte) v1.Layer {
	return &byteLayer{data: data}
}

type byteLayer struct{ data []byte }

func (l *byteLayer) Digest() (v1.Hash, error) { return v1.SHA256(bytes.NewReader(l.data)) }
func (l *byteLayer) DiffID() (v1.Hash, error) { return l.Digest() }
func (l *byteLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.data)), nil
}
func (l *byteLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.data)), nil
}
func (l *byteLayer) Size() (int64, error)               { return int64(len(l.data)), nil }
func (l *byteLayer) MediaType() (string, error)          { return "application/vnd.tangram.blob", nil }
var _ v1.Layer = (*byteLayer)(nil)
