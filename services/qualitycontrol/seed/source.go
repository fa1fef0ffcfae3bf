// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// maxDocumentSize bounds a fetched seed document.
const maxDocumentSize = 32 << 20

// Source fetches a seed document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Name is the file path or object URL, also used to pick the format.
	Name() string
}

// NewSource returns a GCSSource for "gs://bucket/object" and a FileSource
// for anything else.
func NewSource(uri, credentialsFile string) (Source, error) {
	if uri == "" {
		return nil, fmt.Errorf("seed source is empty")
	}
	if rest, ok := strings.CutPrefix(uri, "gs://"); ok {
		bucket, object, found := strings.Cut(rest, "/")
		if !found || bucket == "" || object == "" {
			return nil, fmt.Errorf("invalid GCS seed URL %q, want gs://bucket/object", uri)
		}
		return &GCSSource{Bucket: bucket, Object: object, CredentialsFile: credentialsFile}, nil
	}
	return &FileSource{Path: uri}, nil
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return s.Path }

func (s *FileSource) Fetch(_ context.Context) ([]byte, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return readLimited(f)
}

// GCSSource reads an object from Google Cloud Storage. Without a
// credentials file it uses application default credentials.
type GCSSource struct {
	Bucket          string
	Object          string
	CredentialsFile string

	// ClientOptions are appended when creating the storage client. Tests use
	// them to point at an emulator.
	ClientOptions []option.ClientOption
}

func (s *GCSSource) Name() string { return "gs://" + s.Bucket + "/" + s.Object }

func (s *GCSSource) Fetch(ctx context.Context) ([]byte, error) {
	opts := append([]option.ClientOption(nil), s.ClientOptions...)
	if s.CredentialsFile != "" {
		if _, err := os.Stat(s.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", s.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(s.Bucket).Object(s.Object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Name(), err)
	}
	defer r.Close()
	return readLimited(r)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read seed document: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("seed document exceeds %d bytes", maxDocumentSize)
	}
	return data, nil
}
