// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/KingAli2wq/socialsync/syncserver"
)

// ErrBlobTooLarge is returned for uploads above MaxUploadBytes, before any
// network call is attempted.
var ErrBlobTooLarge = errors.New("blob_too_large")

// MaxUploadBytes mirrors the server-side ceiling.
const MaxUploadBytes = syncserver.MaxMediaBytes

// MediaTransfer moves binary attachments between the local media tree and
// the server. Paths are containment-checked client-side with the same rules
// the server enforces, so a bad path never leaves the process.
type MediaTransfer struct {
	remote *Remote
	logger *slog.Logger
}

// NewMediaTransfer requires a configured remote; media transfer has no
// local-only mode.
func NewMediaTransfer(remote *Remote, logger *slog.Logger) (*MediaTransfer, error) {
	if remote == nil {
		return nil, ErrRemoteDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaTransfer{remote: remote, logger: logger}, nil
}

// Upload sends one blob via the base64 endpoint. Containment and the size
// ceiling are checked before any network traffic.
func (m *MediaTransfer) Upload(ctx context.Context, relPath string, data []byte) error {
	if err := syncserver.CheckPathContainment(relPath); err != nil {
		return err
	}
	if len(data) > MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBlobTooLarge, len(data), MaxUploadBytes)
	}
	return m.remote.UploadMedia(ctx, relPath, data)
}

// Download fetches one blob via the base64 endpoint. ErrNotFound when the
// server has no such blob.
func (m *MediaTransfer) Download(ctx context.Context, relPath string) ([]byte, error) {
	if err := syncserver.CheckPathContainment(relPath); err != nil {
		return nil, err
	}
	return m.remote.DownloadMedia(ctx, relPath)
}

// UploadStream sends a blob as a raw body. size must be the exact number of
// bytes r will yield; it is validated against the ceiling before any network
// call, which is the point of taking it as a parameter.
func (m *MediaTransfer) UploadStream(ctx context.Context, relPath string, r io.Reader, size int64) error {
	if err := syncserver.CheckPathContainment(relPath); err != nil {
		return err
	}
	if size > MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBlobTooLarge, size, MaxUploadBytes)
	}
	return m.remote.UploadMediaStream(ctx, relPath, io.LimitReader(r, size))
}

// DownloadStream returns a reader over the raw blob; the caller closes it.
func (m *MediaTransfer) DownloadStream(ctx context.Context, relPath string) (io.ReadCloser, error) {
	if err := syncserver.CheckPathContainment(relPath); err != nil {
		return nil, err
	}
	return m.remote.DownloadMediaStream(ctx, relPath)
}
