// Command catalog-ingest seeds the merchant directory from gzipped CSV
// exports. Each delivery platform exports its own merchants-<platform>.csv.gz
// file and the same shop frequently appears in several of them, so the
// ingest dedupes across files before upserting: a bloom filter does the
// cheap first-pass check and an exact set settles the (rare) false
// positives.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
	"github.com/lunaroast/brewbox/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
)

// record is one parsed merchant row tagged with its source file.
type record struct {
	source   string
	merchant merchant.Summary
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing merchants-*.csv.gz exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "merchants-*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list export files")
	}
	if len(files) == 0 {
		return errors.Errorf("no merchants-*.csv.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewMerchantRepository(pool)

	// Readers stream the exports concurrently; the single writer dedupes
	// and upserts in arrival order.
	records := make(chan record, 256)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeMerchants(ctx, repo, records)
	})

	readers, readCtx := errgroup.WithContext(ctx)
	for _, f := range files {
		readers.Go(streamExport(readCtx, f, records))
	}
	readErr := readers.Wait()
	close(records)

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "write merchants")
	}
	if readErr != nil {
		return errors.Wrap(readErr, "read exports")
	}
	return nil
}

// streamExport parses one gzipped CSV export and sends its rows to out.
// Expected columns: id, name, name_localized, logo_url, rating, address,
// phone, latitude, longitude, online. A header row is detected and skipped.
func streamExport(ctx context.Context, path string, out chan<- record) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		source := filepath.Base(path)
		r := csv.NewReader(gz)
		r.FieldsPerRecord = 10

		var line int
		for {
			row, err := r.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return errors.Wrapf(err, "parse %s", source)
			}

			line++
			if line == 1 && row[0] == "id" {
				continue
			}

			m, err := parseMerchant(row)
			if err != nil {
				slog.Warn("skipping malformed row",
					slog.String("file", source),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
				continue
			}

			select {
			case out <- record{source: source, merchant: *m}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		slog.Info("export read", slog.String("file", source), slog.Int("rows", line))
		return nil
	}
}

func parseMerchant(row []string) (*merchant.Summary, error) {
	if row[0] == "" {
		return nil, errors.New("empty merchant id")
	}
	if row[1] == "" {
		return nil, errors.New("empty merchant name")
	}

	rating, err := decimal.NewFromString(row[4])
	if err != nil {
		return nil, errors.Wrap(err, "parse rating")
	}

	m := &merchant.Summary{
		ID:            row[0],
		Name:          row[1],
		NameLocalized: row[2],
		LogoURL:       row[3],
		Rating:        rating,
		Address:       row[5],
		Phone:         row[6],
	}

	if row[7] != "" && row[8] != "" {
		lat, err := strconv.ParseFloat(row[7], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse latitude")
		}
		lng, err := strconv.ParseFloat(row[8], 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse longitude")
		}
		m.Lat, m.Lng = &lat, &lng
	}

	m.Online, err = strconv.ParseBool(row[9])
	if err != nil {
		return nil, errors.Wrap(err, "parse online flag")
	}
	return m, nil
}

// writeMerchants upserts records, keeping the first occurrence of each
// merchant id and dropping cross-file duplicates.
func writeMerchants(ctx context.Context, repo *postgres.MerchantRepository, records <-chan record) error {
	seen := newDedupe()
	var written, dupes int

	for rec := range records {
		if seen.has(rec.merchant.ID) {
			dupes++
			continue
		}
		seen.add(rec.merchant.ID)

		if err := repo.Upsert(ctx, &rec.merchant); err != nil {
			return errors.Wrapf(err, "upsert merchant %s from %s", rec.merchant.ID, rec.source)
		}

		if written++; written%progressEvery == 0 {
			slog.Info("write progress", slog.Int("written", written), slog.Int("duplicates", dupes))
		}
	}

	slog.Info("write complete", slog.Int("written", written), slog.Int("duplicates", dupes))
	return nil
}

// dedupe is a bloom filter backed by an exact set. The filter answers the
// common "never seen" case without touching the map; the map settles bloom
// false positives so a unique merchant is never dropped.
type dedupe struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
}

func newDedupe() *dedupe {
	return &dedupe{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		exact:  make(map[string]struct{}),
	}
}

func (d *dedupe) has(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.filter.TestString(id) {
		return false
	}
	_, ok := d.exact[id]
	return ok
}

func (d *dedupe) add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.AddString(id)
	d.exact[id] = struct{}{}
}
