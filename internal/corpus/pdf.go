package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LoadPDFDir reads every .pdf file in dir and returns one record per
// document, titled with the file name (without extension). Files are
// visited in sorted name order so the resulting sequence is deterministic.
// A missing directory yields no records; a directory with unreadable PDFs
// fails the whole load.
func LoadPDFDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []Record
	for _, name := range names {
		text, err := extractPDFText(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("extracting %s: %w", name, err)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: %s contains no extractable text", ErrMalformedCorpus, name)
		}
		records = append(records, Record{
			Title: strings.TrimSuffix(name, filepath.Ext(name)),
			Text:  text,
		})
	}
	return records, nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	body, err := r.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
