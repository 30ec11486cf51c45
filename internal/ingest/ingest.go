// Package ingest reads match result bundles (<id>.tar.xz archives produced by
// match runs) into storage records.
package ingest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"tourney/internal/storage"
)

// BundleExt is the required suffix of an uploaded bundle.
const BundleExt = ".tar.xz"

// MaxEntryBytes caps the size of a single archive member.
const MaxEntryBytes = 256 << 20

var (
	ErrBadExtension    = errors.New("file has a bad extension")
	ErrMissingMetadata = errors.New("bundle has no match metadata")
	ErrMalformed       = errors.New("bundle is malformed")
)

// ResultMeta is one bot's entry in the match metadata.
type ResultMeta struct {
	BotName        string  `json:"bot_name"`
	DockerImage    string  `json:"docker_image"`
	Rank           int     `json:"rank"`
	LastFrameAlive int     `json:"last_frame_alive"`
	ErrorLog       *string `json:"error_log"`
}

// MatchMeta is the <id>.json document inside a bundle.
type MatchMeta struct {
	ID            string       `json:"id"`
	Date          string       `json:"date"`
	Replay        string       `json:"replay"`
	Seed          int64        `json:"seed"`
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	MatchResults  []ResultMeta `json:"match_results"`
	WorkflowRunID int64        `json:"workflow_run_id"`
}

// Bundle is a decoded result archive. Replay and error logs are gzip-compressed.
type Bundle struct {
	Meta      MatchMeta
	Replay    []byte
	ErrorLogs map[string][]byte
}

// ReadBundle decodes the archive called name from r.
func ReadBundle(name string, r io.Reader) (*Bundle, error) {
	base := path.Base(name)
	if !strings.HasSuffix(base, BundleExt) {
		return nil, ErrBadExtension
	}
	stem := strings.TrimSuffix(base, BundleExt)

	files, err := readArchive(r)
	if err != nil {
		return nil, err
	}
	raw, ok := files[stem+".json"]
	if !ok {
		return nil, fmt.Errorf("%w: %s.json", ErrMissingMetadata, stem)
	}
	var meta MatchMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}
	if _, err := uuid.Parse(meta.ID); err != nil {
		return nil, fmt.Errorf("%w: match id %q", ErrMalformed, meta.ID)
	}

	replay, ok := files[clean(meta.Replay)]
	if !ok {
		return nil, fmt.Errorf("%w: replay %q not in archive", ErrMalformed, meta.Replay)
	}
	b := &Bundle{Meta: meta, ErrorLogs: map[string][]byte{}}
	if b.Replay, err = compress(replay); err != nil {
		return nil, err
	}
	for _, res := range meta.MatchResults {
		if res.ErrorLog == nil || *res.ErrorLog == "" {
			continue
		}
		data, ok := files[clean(*res.ErrorLog)]
		if !ok {
			return nil, fmt.Errorf("%w: error log %q not in archive", ErrMalformed, *res.ErrorLog)
		}
		if b.ErrorLogs[*res.ErrorLog], err = compress(data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Records converts the bundle into a match row and its result inputs.
func (b *Bundle) Records() (*storage.Match, []storage.ResultInput, error) {
	id, err := uuid.Parse(b.Meta.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: match id %q", ErrMalformed, b.Meta.ID)
	}
	date, err := parseDate(b.Meta.Date)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: date %q", ErrMalformed, b.Meta.Date)
	}
	m := &storage.Match{
		ID:         id,
		RunID:      b.Meta.WorkflowRunID,
		Date:       &date,
		Seed:       b.Meta.Seed,
		Width:      b.Meta.Width,
		Height:     b.Meta.Height,
		Replay:     b.Replay,
		ReplayName: path.Join(b.Meta.ID, b.Meta.Replay+".gz"),
	}
	results := make([]storage.ResultInput, 0, len(b.Meta.MatchResults))
	for _, r := range b.Meta.MatchResults {
		in := storage.ResultInput{
			BotName:        r.BotName,
			DockerImage:    r.DockerImage,
			Rank:           r.Rank,
			LastFrameAlive: r.LastFrameAlive,
		}
		if r.ErrorLog != nil && *r.ErrorLog != "" {
			in.ErrorLog = b.ErrorLogs[*r.ErrorLog]
			in.ErrorLogName = path.Join(b.Meta.ID, *r.ErrorLog+".gz")
		}
		results = append(results, in)
	}
	return m, results, nil
}

func readArchive(r io.Reader) (map[string][]byte, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	tr := tar.NewReader(xr)
	files := map[string][]byte{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > MaxEntryBytes {
			return nil, fmt.Errorf("%w: %s is too large", ErrMalformed, hdr.Name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, MaxEntryBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		files[clean(hdr.Name)] = data
	}
	return files, nil
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}
