package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrMalformedCorpus is returned when the corpus file contains an entry
// without a title or text. The loader never drops entries silently.
var ErrMalformedCorpus = errors.New("malformed corpus")

// Record is one reference entry of the rules corpus. Records are immutable
// after loading; a record's identity is its position in the loaded sequence.
type Record struct {
	Title string
	Text  string
}

// rawEntry mirrors one entry of the corpus JSON. The source files use
// "description" for the body text.
type rawEntry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// corpusFile is the top-level shape produced by the rulebook converter.
type corpusFile struct {
	Spells []rawEntry `json:"spells"`
}

// Load reads a corpus JSON file and returns its records in file order.
// The file is either an object with a "spells" array or a bare array of
// {title, description} entries.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	return Parse(data)
}

// Parse decodes corpus JSON into ordered records. Entries missing a title
// or description fail the whole load with ErrMalformedCorpus; ordering is
// deterministic so downstream vector tables stay index-aligned.
func Parse(data []byte) ([]Record, error) {
	var entries []rawEntry

	var file corpusFile
	if err := json.Unmarshal(data, &file); err == nil && file.Spells != nil {
		entries = file.Spells
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding corpus JSON: %v", ErrMalformedCorpus, err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: corpus contains no entries", ErrMalformedCorpus)
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		if e.Title == "" {
			return nil, fmt.Errorf("%w: entry %d has no title", ErrMalformedCorpus, i)
		}
		if e.Description == "" {
			return nil, fmt.Errorf("%w: entry %d (%q) has no description", ErrMalformedCorpus, i, e.Title)
		}
		records[i] = Record{Title: e.Title, Text: e.Description}
	}
	return records, nil
}

// Hash returns a content hash of the corpus snapshot. Combined with the
// embedding model name it forms the cache key for corpus vectors: the same
// records in the same order always hash to the same value.
func Hash(records []Record) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.Title))
		h.Write([]byte{0})
		h.Write([]byte(r.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
