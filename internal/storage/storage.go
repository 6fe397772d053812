// Package storage keeps evidence objects uploaded during complaint intake.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/zeebo/blake3"
)

var ErrEmptyObject = errors.New("empty object")

type ObjectStore interface {
	// Store persists the object and returns a URI that can later be
	// dereferenced by whoever reviews the case.
	Store(ctx context.Context, name string, r io.Reader) (string, error)
}

// Remover is implemented by stores that can delete an object by the URI
// Store returned.
type Remover interface {
	Remove(ctx context.Context, uri string) error
}

// Local stores objects content-addressed by their BLAKE3 digest under Dir.
// Identical evidence uploaded twice resolves to the same file.
type Local struct {
	Dir string
}

func (l Local) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(l.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	hasher := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if n == 0 {
		return "", ErrEmptyObject
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	final := filepath.Join(l.Dir, digest[:2], digest+extension(name))
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(final)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// Remove deletes a file:// object under Dir. Missing files are not an error.
func (l Local) Remove(_ context.Context, uri string) error {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return fmt.Errorf("not a local object: %q", uri)
	}
	dir, err := filepath.Abs(l.Dir)
	if err != nil {
		return err
	}
	target := filepath.FromSlash(u.Path)
	if rel, err := filepath.Rel(dir, target); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("object %q is outside %s", uri, l.Dir)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Cloudinary uploads objects to a Cloudinary folder.
type Cloudinary struct {
	Client *cloudinary.Cloudinary
	Folder string
}

func NewCloudinary(cloudinaryURL, folder string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	if folder == "" {
		folder = "inspectline/evidence"
	}
	return &Cloudinary{Client: cld, Folder: folder}, nil
}

func (c *Cloudinary) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	params := uploader.UploadParams{Folder: c.Folder}
	if base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)); base != "" && base != "." {
		params.PublicID = base
	}
	resp, err := c.Client.Upload.Upload(ctx, r, params)
	if err != nil {
		return "", fmt.Errorf("cloudinary upload: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("cloudinary upload: %s", resp.Error.Message)
	}
	return resp.SecureURL, nil
}

// Remove destroys the asset behind a delivery URL returned by Store.
func (c *Cloudinary) Remove(ctx context.Context, uri string) error {
	id := publicID(uri)
	if id == "" {
		return fmt.Errorf("cloudinary: no public id in %q", uri)
	}
	resp, err := c.Client.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: id})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if resp.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", resp.Error.Message)
	}
	return nil
}

// publicID extracts "folder/name" from .../upload/v123/folder/name.jpg.
func publicID(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	_, rest, ok := strings.Cut(u.Path, "/upload/")
	if !ok {
		return ""
	}
	if first, tail, found := strings.Cut(rest, "/"); found && len(first) > 1 && first[0] == 'v' && strings.Trim(first[1:], "0123456789") == "" {
		rest = tail
	}
	return strings.TrimSuffix(rest, path.Ext(rest))
}
