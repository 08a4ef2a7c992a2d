// Package archive reads, extracts and creates the gzipped tarballs packages are published as.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound   = errors.New("file not found in archive")
	ErrNotRegular = errors.New("file in archive is not a regular file")
	ErrUnsafePath = errors.New("archive entry escapes the destination")
)

func open(data []byte) (*tar.Reader, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not untar package file, make sure it is a valid gzipped tarball: %w", err)
	}

	return tar.NewReader(gz), nil
}

// ReadFile returns the content of the entry called name. At most limit bytes are read.
func ReadFile(data []byte, name string, limit int64) ([]byte, error) {
	tr, err := open(data)
	if err != nil {
		return nil, err
	}

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%v: %w", name, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("could not read archive: %w", err)
		}

		if path.Clean(header.Name) != name {
			continue
		}
		if header.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("%v: %w", name, ErrNotRegular)
		}

		return io.ReadAll(io.LimitReader(tr, limit))
	}
}

// Extract writes the regular files and directories of data under dir.
// Links and other special entries are skipped.
func Extract(data []byte, dir string) error {
	tr, err := open(data)
	if err != nil {
		return err
	}

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read archive: %w", err)
		}

		target, err := destination(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func destination(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if target != filepath.Clean(dir) && !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%v: %w", name, ErrUnsafePath)
	}

	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Tar returns an uncompressed tar stream of the contents of dir, suitable as a docker build context.
func Tar(dir string) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)

	err := filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if file == dir {
			return nil
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}

	return buf, nil
}
