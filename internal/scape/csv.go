package scape

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
)

// CSVOptions selects feature columns and the held-out split. Empty column
// lists select every column prefixed "in" or "out" respectively.
type CSVOptions struct {
	InputColumns  []string
	OutputColumns []string
	// TestFraction is the share of trailing rows held out for testing.
	TestFraction float64
	Seed         int64
}

// CSVDataset is a table of numeric rows loaded from a header-led CSV.
type CSVDataset struct {
	name    string
	inputs  []string
	outputs []string
	train   []Sample
	test    []Sample

	mu  sync.Mutex
	rng *rand.Rand
}

func LoadCSV(path string, opts CSVOptions) (*CSVDataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset csv %s: %w", path, err)
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadCSV(f, name, opts)
}

func ReadCSV(r io.Reader, name string, opts CSVOptions) (*CSVDataset, error) {
	rows, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset csv %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDataset, name)
	}
	if opts.TestFraction < 0 || opts.TestFraction >= 1 {
		return nil, fmt.Errorf("test fraction must be in [0, 1), got %v", opts.TestFraction)
	}

	d := &CSVDataset{
		name:    name,
		inputs:  opts.InputColumns,
		outputs: opts.OutputColumns,
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
	if len(d.inputs) == 0 {
		d.inputs = columnsWithPrefix(rows[0], "in")
	}
	if len(d.outputs) == 0 {
		d.outputs = columnsWithPrefix(rows[0], "out")
	}
	if len(d.inputs) == 0 || len(d.outputs) == 0 {
		return nil, fmt.Errorf("dataset %s needs input and output columns", name)
	}

	samples := make([]Sample, 0, len(rows))
	for i, row := range rows {
		in, err := parseColumns(row, d.inputs)
		if err != nil {
			return nil, fmt.Errorf("dataset %s row %d: %w", name, i+1, err)
		}
		out, err := parseColumns(row, d.outputs)
		if err != nil {
			return nil, fmt.Errorf("dataset %s row %d: %w", name, i+1, err)
		}
		samples = append(samples, Sample{Input: in, Output: out})
	}

	split := len(samples) - int(float64(len(samples))*opts.TestFraction)
	d.train, d.test = samples[:split], samples[split:]
	if len(d.test) == 0 {
		d.test = d.train
	}
	return d, nil
}

// columnsWithPrefix orders matching headers by their numeric suffix so that
// in10 follows in9.
func columnsWithPrefix(row map[string]string, prefix string) []string {
	var cols []string
	for k := range row {
		if strings.HasPrefix(strings.ToLower(k), prefix) {
			cols = append(cols, k)
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		a, aerr := strconv.Atoi(cols[i][len(prefix):])
		b, berr := strconv.Atoi(cols[j][len(prefix):])
		if aerr == nil && berr == nil && a != b {
			return a < b
		}
		return cols[i] < cols[j]
	})
	return cols
}

func parseColumns(row map[string]string, cols []string) ([]float64, error) {
	out := make([]float64, len(cols))
	for i, col := range cols {
		raw, ok := row[col]
		if !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[i] = v
	}
	return out, nil
}

func (d *CSVDataset) Name() string {
	return d.name
}

func (d *CSVDataset) Width() (int, int) {
	return len(d.inputs), len(d.outputs)
}

func (d *CSVDataset) Len() (train, test int) {
	return len(d.train), len(d.test)
}

func (d *CSVDataset) FetchTraining(ctx context.Context, count int, random bool) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return pick(d.rng, d.train, count, random), nil
}

func (d *CSVDataset) FetchTest(ctx context.Context, count int, random bool) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return pick(d.rng, d.test, count, random), nil
}
