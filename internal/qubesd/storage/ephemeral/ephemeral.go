// Package ephemeral wraps a storage.Volume flagged ephemeral so that the
// data passing through its Export/ImportData streams is age-encrypted with
// an X25519 key pair generated in memory on every Start and discarded on
// Stop. BlockDevice and the rest of the Volume surface are the inner
// volume's own: the image the running domain writes to is not encrypted.
package ephemeral

import (
	"context"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"

	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/pkg/apierror"
)

// Volume decorates a plain storage.Volume, layering age encryption over
// its Export/ImportData streams. It is only meaningful for volumes with
// Ephemeral=true; the factory below refuses to wrap anything else.
type Volume struct {
	storage.Volume

	mu       sync.Mutex
	identity *age.X25519Identity
}

// Wrap returns an encrypting decorator around inner. inner must declare
// Ephemeral=true in its Config; this mirrors the design note that a
// DispVM's volatile volume inherits ephemeral encryption from its
// template rather than each driver reimplementing it.
func Wrap(inner storage.Volume) (*Volume, error) {
	if !inner.Config().Ephemeral {
		return nil, fmt.Errorf("ephemeral.Wrap: volume %s is not marked ephemeral", inner.Config().VID)
	}
	return &Volume{Volume: inner}, nil
}

// Start generates a fresh in-memory key before delegating to the
// decorated volume's own Start (which, for a volatile volume, recreates
// the backing image empty).
func (v *Volume) Start(ctx context.Context) error {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "generate ephemeral key", err)
	}
	v.mu.Lock()
	v.identity = id
	v.mu.Unlock()
	return v.Volume.Start(ctx)
}

// Stop discards the in-memory key, making any bytes already written to
// the backing store permanently unreadable, then delegates to the
// decorated volume (which for a volatile volume never persists anyway).
func (v *Volume) Stop(ctx context.Context) error {
	v.mu.Lock()
	v.identity = nil
	v.mu.Unlock()
	return v.Volume.Stop(ctx)
}

// ImportData returns a WriteCloser that age-encrypts everything written
// to it with this boot's key before handing it to the decorated volume.
func (v *Volume) ImportData(ctx context.Context) (io.WriteCloser, error) {
	v.mu.Lock()
	id := v.identity
	v.mu.Unlock()
	if id == nil {
		return nil, apierror.WrapError(apierror.ErrWrongState, "volume not started", nil)
	}

	raw, err := v.Volume.ImportData(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := age.Encrypt(raw, id.Recipient())
	if err != nil {
		_ = raw.Close()
		return nil, apierror.WrapError(apierror.ErrInternal, "open age writer", err)
	}
	return &encryptingWriter{enc: enc, raw: raw}, nil
}

type encryptingWriter struct {
	enc io.WriteCloser
	raw io.WriteCloser
}

func (w *encryptingWriter) Write(p []byte) (int, error) { return w.enc.Write(p) }

func (w *encryptingWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		_ = w.raw.Close()
		return err
	}
	return w.raw.Close()
}

// Export returns a ReadCloser that decrypts with this boot's key.
func (v *Volume) Export(ctx context.Context) (io.ReadCloser, error) {
	v.mu.Lock()
	id := v.identity
	v.mu.Unlock()
	if id == nil {
		return nil, apierror.WrapError(apierror.ErrWrongState, "volume not started", nil)
	}

	raw, err := v.Volume.Export(ctx)
	if err != nil {
		return nil, err
	}
	dec, err := age.Decrypt(raw, id)
	if err != nil {
		_ = raw.Close()
		return nil, apierror.WrapError(apierror.ErrInternal, "open age reader", err)
	}
	return &decryptingReader{dec: dec, raw: raw}, nil
}

type decryptingReader struct {
	dec io.Reader
	raw io.Closer
}

func (r *decryptingReader) Read(p []byte) (int, error) { return r.dec.Read(p) }
func (r *decryptingReader) Close() error                { return r.raw.Close() }

var _ storage.Volume = (*Volume)(nil)
