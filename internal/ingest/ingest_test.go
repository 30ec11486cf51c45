package ingest

import (
	"archive/tar"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"

	"tourney/internal/replay"
)

const matchID = "3f1c6d52-8d1e-4c2a-9a53-0c7e5f1d2b11"

func archive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	tw := tar.NewWriter(xw)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

const meta = `{"id":"` + matchID + `","date":"2024-03-05T14:30:00+00:00","replay":"game.hlt","seed":42,
"width":30,"height":30,"workflow_run_id":99,"match_results":[
{"bot_name":"alpha","docker_image":"ghcr.io/a/alpha@sha256:1","rank":1,"last_frame_alive":300,"error_log":null},
{"bot_name":"beta","docker_image":"ghcr.io/b/beta:v1","rank":2,"last_frame_alive":120,"error_log":"beta.log"}]}`

func TestReadBundle(t *testing.T) {
	data := archive(t, map[string]string{
		"./" + matchID + ".json": meta,
		"game.hlt":               `{"version":11}`,
		"beta.log":               "panic: oops",
	})
	b, err := ReadBundle(matchID+".tar.xz", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if got, err := replay.Inflate(b.Replay); err != nil || got != `{"version":11}` {
		t.Fatalf("replay not gzip of original: %q %v", got, err)
	}

	m, results, err := b.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if m.ID.String() != matchID || m.RunID != 99 || m.Seed != 42 || m.Date == nil || m.Date.Year() != 2024 {
		t.Fatalf("unexpected match %+v", m)
	}
	if m.ReplayName != matchID+"/game.hlt.gz" {
		t.Fatalf("unexpected replay name %q", m.ReplayName)
	}
	if len(results) != 2 || results[0].ErrorLog != nil || results[1].ErrorLogName != matchID+"/beta.log.gz" {
		t.Fatalf("unexpected results %+v", results)
	}
	if got, _ := replay.Inflate(results[1].ErrorLog); got != "panic: oops" {
		t.Fatalf("unexpected error log %q", got)
	}
}

func TestReadBundleErrors(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		files map[string]string
		want  error
		msg   string
	}{
		{"extension", matchID + ".zip", nil, ErrBadExtension, ""},
		{"metadata", matchID + ".tar.xz", map[string]string{"other.json": "{}"}, ErrMissingMetadata, ""},
		{"json", matchID + ".tar.xz", map[string]string{matchID + ".json": "{"}, ErrMalformed, "metadata"},
		{"replay", matchID + ".tar.xz", map[string]string{matchID + ".json": meta}, ErrMalformed, "replay"},
		{"log", matchID + ".tar.xz", map[string]string{matchID + ".json": meta, "game.hlt": "{}"}, ErrMalformed, "beta.log"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var data []byte
			if tc.files != nil {
				data = archive(t, tc.files)
			}
			_, err := ReadBundle(tc.file, bytes.NewReader(data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.msg != "" && !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("error %q does not mention %q", err, tc.msg)
			}
		})
	}
}

func TestReadBundleNotXZ(t *testing.T) {
	_, err := ReadBundle(matchID+".tar.xz", strings.NewReader("plain bytes"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
