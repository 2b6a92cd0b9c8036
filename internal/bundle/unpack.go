package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var maxEntryBytes int64 = 512 << 20

var errEntryTooLarge = errors.New("archive entry exceeds size limit")

// Unpack reads the extraction archive. A missing or unreadable manifest
// fails the whole unpack; a missing rendition only leaves that artifact's
// field nil.
func Unpack(archive []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, &UnpackError{Reason: ErrCorruptArchive, Err: err}
	}

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries[cleanEntry(f.Name)] = f
	}

	mf, ok := entries[ManifestFile]
	if !ok {
		return nil, &UnpackError{Reason: ErrMissingManifest}
	}
	data, err := readEntry(mf)
	if err != nil {
		return nil, &UnpackError{Reason: ErrCorruptArchive, Err: err}
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, &UnpackError{Reason: ErrMalformedManifest, Err: err}
	}

	return Assemble(m.Text(), m, func(el Element, _ string, ext string) []byte {
		for _, p := range el.FilePaths() {
			if strings.ToLower(path.Ext(p)) != ext {
				continue
			}
			f, ok := entries[cleanEntry(p)]
			if !ok {
				continue
			}
			if data, err := readEntry(f); err == nil {
				return data
			}
		}
		return nil
	}), nil
}

func cleanEntry(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	// A truncated rendition must not pass for a whole one.
	if int64(len(data)) > maxEntryBytes {
		return nil, fmt.Errorf("%s: %w", f.Name, errEntryTooLarge)
	}
	return data, nil
}
