package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"sort"
	"testing"

	"everstone.io/anchor/memorial"
)

func testRecord() *memorial.Record {
	return &memorial.Record{
		Subject: memorial.Subject{
			FullName:  "Ada Lovelace",
			BirthDate: "1815-12-10",
			DeathDate: "1852-11-27",
			Epitaph:   "Enchantress of Number",
		},
		Content: memorial.Content{
			BioMarkdown: "Wrote the first published algorithm.",
			MainImage:   "portrait.jpg",
			Gallery:     []string{"portrait.jpg", "notes.png"},
		},
		Provenance: memorial.Provenance{Version: memorial.ManifestVersion},
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	assets := map[string][]byte{
		"portrait.jpg": []byte("jpeg-bytes"),
		"notes.png":    []byte("png-bytes"),
	}
	data, err := Pack(testRecord(), assets)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	a, err := Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if a.Manifest.Subject.FullName != "Ada Lovelace" {
		t.Errorf("subject = %q", a.Manifest.Subject.FullName)
	}
	if a.ManifestPath != ManifestName {
		t.Errorf("manifest path = %q", a.ManifestPath)
	}

	// Assets must resolve by both leaf name and full path.
	for _, ref := range []string{"portrait.jpg", "assets/portrait.jpg"} {
		b, ok := a.Asset(ref)
		if !ok {
			t.Fatalf("asset %q missing", ref)
		}
		if string(b) != "jpeg-bytes" {
			t.Errorf("asset %q = %q", ref, b)
		}
	}
}

func TestPackDeterministic(t *testing.T) {
	assets := map[string][]byte{
		"b.png": []byte("b"),
		"a.png": []byte("a"),
		"c.png": []byte("c"),
	}
	first, err := Pack(testRecord(), assets)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	second, err := Pack(testRecord(), assets)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("Pack is not deterministic")
	}
}

func TestUnpackNestedManifest(t *testing.T) {
	// Manifests may sit below a top-level directory; located by suffix.
	manifest, err := testRecord().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data := zipOf(t, map[string][]byte{
		"export-2024/metadata.json":    manifest,
		"export-2024/assets/photo.jpg": []byte("photo"),
	})

	a, err := Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if a.ManifestPath != "export-2024/metadata.json" {
		t.Errorf("manifest path = %q", a.ManifestPath)
	}
	if _, ok := a.Asset("photo.jpg"); !ok {
		t.Errorf("leaf-name asset lookup failed")
	}
	if _, ok := a.Asset("export-2024/assets/photo.jpg"); !ok {
		t.Errorf("full-path asset lookup failed")
	}
}

func TestUnpackMissingManifest(t *testing.T) {
	data := zipOf(t, map[string][]byte{"photo.jpg": []byte("photo")})
	_, err := Unpack(data)
	if !errors.Is(err, ErrManifestMissing) {
		t.Fatalf("err = %v, want ErrManifestMissing", err)
	}
}

func TestUnpackDuplicateManifest(t *testing.T) {
	manifest, err := testRecord().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data := zipOf(t, map[string][]byte{
		"metadata.json":   manifest,
		"a/metadata.json": manifest,
	})
	_, err = Unpack(data)
	if !errors.Is(err, ErrDuplicateManifest) {
		t.Fatalf("err = %v, want ErrDuplicateManifest", err)
	}
}

func TestUnpackCorrupt(t *testing.T) {
	_, err := Unpack([]byte("this is not a zip archive"))
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("err = %v, want ErrCorruptArchive", err)
	}
}

func TestPackRejectsTraversal(t *testing.T) {
	_, err := Pack(testRecord(), map[string][]byte{"../escape.txt": []byte("x")})
	if err == nil {
		t.Fatalf("expected error for path traversal asset name")
	}
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names) // stable iteration keeps failures reproducible

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
