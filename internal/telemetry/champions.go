package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"petri/internal/model"
)

// ChampionLog appends champion records to a CSV file. A nil log discards
// writes.
type ChampionLog struct {
	mu            sync.Mutex
	file          *os.File
	headerWritten bool
}

// NewChampionLog creates the file at path. An empty path yields a nil log.
func NewChampionLog(path string) (*ChampionLog, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &ChampionLog{file: f}, nil
}

func (l *ChampionLog) Write(rec model.ChampionRecord) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	records := []model.ChampionRecord{rec}
	if !l.headerWritten {
		if err := gocsv.Marshal(records, l.file); err != nil {
			return fmt.Errorf("writing champion: %w", err)
		}
		l.headerWritten = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, l.file); err != nil {
		return fmt.Errorf("writing champion: %w", err)
	}
	return nil
}

func (l *ChampionLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadChampions loads a champion CSV written by ChampionLog.
func ReadChampions(path string) ([]model.ChampionRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open champions csv %s: %w", path, err)
	}
	defer f.Close()
	var records []model.ChampionRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("read champions csv %s: %w", path, err)
	}
	return records, nil
}

// WriteChampions writes records as one CSV document.
func WriteChampions(path string, records []model.ChampionRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(&records, f); err != nil {
		f.Close()
		return fmt.Errorf("writing champions: %w", err)
	}
	return f.Close()
}
