// Package bundle packs and unpacks memorial content bundles.
//
// A bundle is a zip archive holding exactly one manifest entry (metadata.json,
// at any nesting depth) plus zero or more named asset entries. The sha2-256
// digest of the archive bytes is what gets anchored on chain, so Pack is
// deterministic: entry order is lexicographic and timestamps are normalized.
package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"everstone.io/anchor/memorial"
)

// ManifestName is the filename suffix that identifies the manifest entry.
const ManifestName = "metadata.json"

var (
	ErrManifestMissing   = errors.New("bundle: manifest missing")
	ErrDuplicateManifest = errors.New("bundle: more than one manifest entry")
	ErrCorruptArchive    = errors.New("bundle: corrupt archive")
)

// Archive is an unpacked bundle.
//
// Assets maps both the path-stripped leaf name and the full original path of
// every non-manifest entry to its bytes, because manifests reference assets
// by either form.
type Archive struct {
	Manifest     *memorial.Record
	ManifestPath string
	Assets       map[string][]byte
}

// Asset resolves an asset reference by leaf name or full path.
func (a *Archive) Asset(ref string) ([]byte, bool) {
	b, ok := a.Assets[ref]
	return b, ok
}

// Unpack reads a bundle archive.
//
// Exactly one manifest entry is required; an archive without one fails with
// ErrManifestMissing, an unreadable archive with ErrCorruptArchive.
func Unpack(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	out := &Archive{Assets: make(map[string][]byte)}
	var manifestBytes []byte

	for _, f := range zr.File {
		name := cleanEntryPath(f.Name)
		if name == "" {
			if strings.HasSuffix(f.Name, "/") {
				continue // directory entry
			}
			return nil, fmt.Errorf("%w: invalid entry path %q", ErrCorruptArchive, f.Name)
		}
		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}

		if strings.HasSuffix(name, ManifestName) {
			if manifestBytes != nil {
				return nil, ErrDuplicateManifest
			}
			manifestBytes = content
			out.ManifestPath = name
			continue
		}

		out.Assets[name] = content
		if leaf := path.Base(name); leaf != name {
			out.Assets[leaf] = content
		}
	}

	if manifestBytes == nil {
		return nil, ErrManifestMissing
	}
	rec, err := memorial.Parse(manifestBytes)
	if err != nil {
		return nil, err
	}
	out.Manifest = rec
	return out, nil
}

// Pack writes a deterministic bundle archive: the manifest under
// ManifestName, assets under assets/<name>, entries in lexicographic order
// with zeroed timestamps.
func Pack(rec *memorial.Record, assets map[string][]byte) ([]byte, error) {
	manifest, err := rec.Marshal()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(assets))
	for name := range assets {
		clean := cleanEntryPath(name)
		if clean == "" || clean != name {
			return nil, fmt.Errorf("bundle: invalid asset name %q", name)
		}
		if strings.HasSuffix(name, ManifestName) {
			return nil, fmt.Errorf("bundle: asset name %q collides with manifest", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, ManifestName, manifest); err != nil {
		return nil, err
	}
	for _, name := range names {
		entry := name
		if !strings.HasPrefix(entry, "assets/") {
			entry = "assets/" + entry
		}
		if err := writeEntry(zw, entry, assets[name]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Unix(0, 0).UTC(),
	})
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	return err
}

func cleanEntryPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		return ""
	}

	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
		out = append(out, part)
	}
	return strings.Join(out, "/")
}
