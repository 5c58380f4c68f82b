// Package jsonstream implements the Stream JSON Reader (C1): an incremental
// reader over a file containing a top-level JSON array, so multi-gigabyte
// legacy exports never need to be materialised whole in memory.
package jsonstream

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
)

// Reader reads a top-level JSON array from disk one element at a time.
type Reader struct {
	path string
}

// Open returns a Reader over path. The file is not read until an operation
// (Count/Sample/ForEachBatch) is invoked — each opens its own file handle so
// multiple operations (or retries) never share decoder state.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("jsonstream: %w", err)
	}
	return &Reader{path: path}, nil
}

// Count returns the number of top-level elements. It uses gjson's
// whole-buffer array walk rather than a full decode-and-discard pass; for
// very large files this still requires reading the file into memory once,
// which is acceptable for a count-only pass (no per-element unmarshal).
func (r *Reader) Count() (int, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return 0, fmt.Errorf("jsonstream: reading %s: %w", r.path, err)
	}
	result := gjson.ParseBytes(data)
	if !result.IsArray() {
		return 0, fmt.Errorf("jsonstream: %s is not a top-level JSON array", r.path)
	}
	count := 0
	result.ForEach(func(_, _ gjson.Result) bool {
		count++
		return true
	})
	return count, nil
}

// Sample returns the first n elements, stopping the underlying read as soon
// as n have been decoded. A terminal parse error is tolerated once at least
// n elements have already been emitted (spec §4.1).
func (r *Reader) Sample(n int) ([]json.RawMessage, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("jsonstream: opening %s: %w", r.path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := expectArrayStart(dec); err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, 0, n)
	for dec.More() && len(out) < n {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if len(out) >= n {
				return out, nil
			}
			return out, fmt.Errorf("jsonstream: decoding element %d of %s: %w", len(out), r.path, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// BatchFunc processes one contiguous batch of elements. batchIndex is
// zero-based. Returning an error aborts ForEachBatch.
type BatchFunc func(batch []json.RawMessage, batchIndex int) error

// ForEachBatch decodes the array in contiguous batches of up to batchSize
// elements, invoking fn once per batch. The underlying decoder is not
// advanced while fn runs — the caller's processing is the backpressure
// mechanism, since json.Decoder.Token/Decode already block on I/O one
// element at a time and nothing prefetches ahead of fn. Returns the total
// element count seen.
func (r *Reader) ForEachBatch(batchSize int, fn BatchFunc) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("jsonstream: batchSize must be positive, got %d", batchSize)
	}

	f, err := os.Open(r.path)
	if err != nil {
		return 0, fmt.Errorf("jsonstream: opening %s: %w", r.path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := expectArrayStart(dec); err != nil {
		return 0, err
	}

	total := 0
	batchIndex := 0
	batch := make([]json.RawMessage, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch, batchIndex); err != nil {
			return fmt.Errorf("jsonstream: batch %d: %w", batchIndex, err)
		}
		batchIndex++
		batch = make([]json.RawMessage, 0, batchSize)
		return nil
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return total, fmt.Errorf("jsonstream: decoding element %d of %s: %w", total, r.path, err)
		}
		batch = append(batch, raw)
		total++
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	// consume the closing bracket, surfacing any trailing corruption
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return total, fmt.Errorf("jsonstream: reading closing bracket of %s: %w", r.path, err)
	}

	return total, nil
}

func expectArrayStart(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("jsonstream: reading opening token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return fmt.Errorf("jsonstream: expected top-level JSON array, got %v", tok)
	}
	return nil
}
