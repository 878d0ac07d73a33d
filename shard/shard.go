// Package shard distributes raster files into hash addressed buckets,
// re-encoding them on the way.
package shard

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airbusgeo/landmask"
	"github.com/airbusgeo/landmask/internal/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// ManifestName is the file mapping identifiers to their bucketed path, written
// in the output directory.
const ManifestName = "manifest.yaml"

// Identifier is the name a file is bucketed by: its base name without
// extension. The content is never hashed, so re-encoding a file does not move
// it to another bucket.
func Identifier(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Bucket returns the first width hex characters of the BLAKE3-256 digest of id.
func Bucket(id string, width int) string {
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:width]
}

// Result is the outcome for one source file. Output is relative to the output
// directory.
type Result struct {
	Source      string
	ID          string
	Output      string
	Skipped     bool
	// Fingerprint identifies the source content and encoding the output was
	// produced from.
	Fingerprint string
	Err         error
}

// Failure is a file that could not be sharded.
type Failure struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Summary aggregates the results of a run.
type Summary struct {
	Written  int       `json:"written"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
	Results  []Result  `json:"-"`
}

// Manifest maps identifiers to their bucketed path, and records the
// fingerprint each output was produced from.
type Manifest struct {
	Encoding     string            `json:"encoding"`
	Buckets      int               `json:"buckets"`
	Files        map[string]string `json:"files"`
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
}

// Sharder copies every file of an input directory into
// <output>/<bucket>/<id>.<ext>.
type Sharder struct {
	input, output string
	buckets       int
	width         int
	workers       int
	force         bool
	encoding      string
	enc           Encoder
}

// New validates cfg for sharding. enc overrides cfg.Encoding when not nil.
func New(cfg landmask.Config, enc Encoder) (*Sharder, error) {
	if err := cfg.ValidateShard(); err != nil {
		return nil, err
	}
	width, _ := landmask.PrefixWidth(cfg.BucketCount)
	if enc == nil {
		var err error
		if enc, err = NewEncoder(cfg.Encoding); err != nil {
			return nil, err
		}
	}
	return &Sharder{
		input:    cfg.InputDir,
		output:   cfg.OutputDir,
		buckets:  cfg.BucketCount,
		width:    width,
		workers:  cfg.Workers,
		force:    cfg.Force,
		encoding: cfg.Encoding,
		enc:      enc,
	}, nil
}

func (s *Sharder) sources() ([]string, error) {
	entries, err := os.ReadDir(s.input)
	if err != nil {
		return nil, landmask.ConfigError{Option: "input", Msg: err.Error()}
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Run shards every file of the input directory. Per file failures are
// collected in the summary; the returned error is only set for configuration
// problems.
func (s *Sharder) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	names, err := s.sources()
	if err != nil {
		return sum, err
	}
	if err := os.MkdirAll(s.output, 0o755); err != nil {
		return sum, landmask.ConfigError{Option: "output", Msg: err.Error()}
	}
	log.Logger(ctx).Info("starting sharding",
		zap.Int("files", len(names)),
		zap.Int("buckets", s.buckets),
		zap.String("encoding", s.enc.Extension()))

	prev := s.previousFingerprints(ctx)
	var results []Result
	seen := map[string]string{}
	p := pool.NewWithResults[Result]().WithMaxGoroutines(max(s.workers, 1))
	for _, name := range names {
		id := Identifier(name)
		if prev, dup := seen[id]; dup {
			results = append(results, Result{Source: name, ID: id, Err: landmask.CopyError{File: name,
				Err: fmt.Errorf("identifier %s already used by %s", id, prev)}})
			continue
		}
		seen[id] = name
		if ctx.Err() != nil {
			results = append(results, Result{Source: name, ID: id, Err: landmask.CopyError{File: name, Err: ctx.Err()}})
			continue
		}
		name, fp := name, prev[id]
		p.Go(func() Result {
			return s.shardOne(ctx, name, fp)
		})
	}
	results = append(results, p.Wait()...)
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })

	m := Manifest{Encoding: s.enc.Extension(), Buckets: s.buckets,
		Files: map[string]string{}, Fingerprints: map[string]string{}}
	for _, r := range results {
		switch {
		case r.Err != nil:
			sum.Failed++
			sum.Failures = append(sum.Failures, Failure{File: r.Source, Reason: r.Err.Error()})
			continue
		case r.Skipped:
			sum.Skipped++
		default:
			sum.Written++
		}
		m.Files[r.ID] = r.Output
		m.Fingerprints[r.ID] = r.Fingerprint
	}
	sum.Results = results
	if err := writeManifest(filepath.Join(s.output, ManifestName), m); err != nil {
		log.Logger(ctx).Error("failed to write manifest", zap.Error(err))
	}
	log.Logger(ctx).Info("sharding finished",
		zap.Int("written", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// previousFingerprints reads the fingerprints of the last run's manifest. A
// missing or unreadable manifest yields none, so every output is rewritten.
func (s *Sharder) previousFingerprints(ctx context.Context) map[string]string {
	data, err := os.ReadFile(filepath.Join(s.output, ManifestName))
	if err != nil {
		return nil
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		log.Logger(ctx).Warn("ignoring unreadable manifest", zap.Error(err))
		return nil
	}
	return m.Fingerprints
}

// fingerprint hashes the encoding and the content of the source file.
func (s *Sharder) fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	fmt.Fprintf(h, "encoding=%s/%s\n", s.encoding, s.enc.Extension())
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeManifest(p string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return landmask.WriteFileAtomic(p, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// shardOne skips the file when its output exists and was produced from the
// same content and encoding, unless forced.
func (s *Sharder) shardOne(ctx context.Context, name, prevFingerprint string) (res Result) {
	id := Identifier(name)
	bucket := Bucket(id, s.width)
	res = Result{Source: name, ID: id, Output: path.Join(bucket, id+"."+s.enc.Extension())}
	defer func() {
		if p := recover(); p != nil {
			res.Err = landmask.EncodeError{File: name, Err: fmt.Errorf("panic: %v", p)}
		}
		if res.Err != nil {
			log.Logger(ctx).Warn("file failed", zap.String("file", name), zap.Error(res.Err))
		}
	}()
	dir := filepath.Join(s.output, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.Err = landmask.CopyError{File: name, Err: err}
		return
	}
	src := filepath.Join(s.input, name)
	fp, err := s.fingerprint(src)
	if err != nil {
		res.Err = landmask.CopyError{File: name, Err: err}
		return
	}
	res.Fingerprint = fp
	dst := filepath.Join(s.output, filepath.FromSlash(res.Output))
	if !s.force && fp == prevFingerprint {
		if _, err := os.Stat(dst); err == nil {
			res.Skipped = true
			return
		}
	}
	if err := s.enc.Encode(ctx, src, dst); err != nil {
		res.Err = landmask.EncodeError{File: name, Err: err}
	}
	return
}
