// Package sealedstore keeps secrets as age-encrypted files in a directory.
// File names are the blake3 hash of the key, so the directory reveals
// neither keys nor values and the store cannot enumerate what it holds.
package sealedstore

import (
	"bytes"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/storage"
)

var _ storage.Store = (*Store)(nil)

const fileSuffix = ".age"

// Store is a directory of sealed values.
type Store struct {
	dir       string
	identity  *age.X25519Identity
	recipient age.Recipient
}

// Open uses dir for sealed files and identityFile for the age identity.
// A missing identity file is generated and written with mode 0600.
func Open(dir, identityFile string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "Open", "create store directory")
	}
	identity, err := loadIdentity(identityFile)
	if err != nil {
		return nil, err
	}
	return New(dir, identity), nil
}

// New uses an already parsed identity.
func New(dir string, identity *age.X25519Identity) *Store {
	return &Store{dir: dir, identity: identity, recipient: identity.Recipient()}
}

func loadIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, errors.WrapInvalid(err, "sealedstore", "loadIdentity", "parse age identity")
		}
		return identity, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.WrapFatal(err, "sealedstore", "loadIdentity", "read identity file")
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "loadIdentity", "generate age identity")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "loadIdentity", "create identity directory")
	}
	if err := os.WriteFile(path, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "loadIdentity", "write identity file")
	}
	return identity, nil
}

func (s *Store) path(key string) string {
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileSuffix)
}

// Put encrypts data to the store's recipient and replaces the key's file.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, s.recipient)
	if err != nil {
		return errors.WrapFatal(err, "sealedstore", "Put", "create age encryptor")
	}
	if _, err := w.Write(data); err != nil {
		return errors.WrapFatal(err, "sealedstore", "Put", "write plaintext")
	}
	if err := w.Close(); err != nil {
		return errors.WrapFatal(err, "sealedstore", "Put", "finalize encryption")
	}

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.WrapTransient(err, "sealedstore", "Put", "create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(sealed.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.WrapTransient(err, "sealedstore", "Put", "write sealed file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "sealedstore", "Put", "close sealed file")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.WrapTransient(err, "sealedstore", "Put", "replace sealed file")
	}
	return nil
}

// Get decrypts the key's file.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("sealedstore get: %w", errors.ErrKeyNotFound)
		}
		return nil, errors.WrapTransient(err, "sealedstore", "Get", "open sealed file")
	}
	defer f.Close()

	r, err := age.Decrypt(f, s.identity)
	if err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "Get", "decrypt sealed file")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapFatal(err, "sealedstore", "Get", "read plaintext")
	}
	return data, nil
}

// List always fails with storage.ErrNotEnumerable.
func (s *Store) List(context.Context, string) ([]string, error) {
	return nil, storage.ErrNotEnumerable
}

// Delete removes the key's file.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.WrapTransient(err, "sealedstore", "Delete", "remove sealed file")
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
