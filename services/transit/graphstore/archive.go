// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/TransitGraph/services/transit/datatypes"
)

// GCSArchiver uploads pruned graph versions to a Google Cloud Storage bucket
// as gs://<bucket>/<prefix>/<version>.json.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string

	// newWriter is replaced in tests.
	newWriter func(ctx context.Context, object string) io.WriteCloser
}

// NewGCSArchiver creates an archiver. credentialsFile may be empty to use
// application default credentials.
func NewGCSArchiver(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSArchiver, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	a := &GCSArchiver{client: client, bucket: bucket, prefix: prefix}
	a.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		return w
	}
	return a, nil
}

// ObjectName returns the object path a version is archived under.
func (a *GCSArchiver) ObjectName(version uint64) string {
	return path.Join(a.prefix, fmt.Sprintf("%020d.json", version))
}

// Archive writes g as JSON. The upload is only committed when Close succeeds.
func (a *GCSArchiver) Archive(ctx context.Context, g *datatypes.GraphVersion) error {
	object := a.ObjectName(g.ID())
	w := a.newWriter(ctx, object)
	if err := json.NewEncoder(w).Encode(g); err != nil {
		_ = w.Close()
		return fmt.Errorf("encode version %d to gs://%s/%s: %w", g.ID(), a.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", object, err)
	}
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

var _ Archiver = (*GCSArchiver)(nil)
