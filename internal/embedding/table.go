// Package embedding loads static word embeddings and reduces utterances to a
// single vector by averaging the embeddings of their known words.
package embedding

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/hyperjump/kotoba/internal/vector"
)

const maxLineBytes = 4 << 20

// Table maps lowercase words to vectors of a single dimensionality.
// It is immutable once loaded and safe for concurrent use.
type Table struct {
	words      map[string]vector.Vector
	dimensions int
}

// NewTable builds a table from an in-memory map. Every vector must have the
// given dimensionality.
func NewTable(dimensions int, words map[string]vector.Vector) (*Table, error) {
	t := &Table{words: make(map[string]vector.Vector, len(words)), dimensions: dimensions}
	for w, v := range words {
		if len(v) != dimensions {
			return nil, &LoadError{Kind: ErrWrongDimensionality, Expected: dimensions, Actual: len(v)}
		}
		t.words[w] = v.Clone()
	}
	return t, nil
}

// Load reads an embedding resource from path. Paths ending in .gz or .zst are
// decompressed on the fly.
func Load(path string) (*Table, error) {
	rc, err := openResource(path)
	if err != nil {
		return nil, &LoadError{Kind: ErrIO, Err: err}
	}
	defer rc.Close()
	return Read(rc)
}

// Read parses an embedding resource: a "<rows> <dimensionality>" header line
// followed by one "<word> <float>..." line per vector.
func Read(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, &LoadError{Kind: ErrIO, Line: 1, Err: err}
		}
		return nil, &LoadError{Kind: ErrMissingHeader}
	}
	rows, dimensions, err := parseHeader(trimLine(sc.Text()))
	if err != nil {
		return nil, err
	}

	t := &Table{words: make(map[string]vector.Vector, rows), dimensions: dimensions}
	line := 1
	for sc.Scan() {
		line++
		word, v, err := parseVector(dimensions, trimLine(sc.Text()))
		if err != nil {
			err.Line = line
			return nil, err
		}
		t.words[word] = v
	}
	if err := sc.Err(); err != nil {
		return nil, &LoadError{Kind: ErrIO, Line: line + 1, Err: err}
	}

	if len(t.words) != rows {
		return nil, &LoadError{Kind: ErrMissingVectors, Expected: rows, Actual: len(t.words)}
	}
	return t, nil
}

// trimLine drops the line terminator leftovers and the trailing blank some
// exporters write after the last element.
func trimLine(s string) string {
	return strings.TrimRight(s, " \r")
}

func parseHeader(line string) (rows, dimensions int, err error) {
	fields := strings.Split(line, " ")
	if len(fields) != 2 {
		return 0, 0, &LoadError{Kind: ErrWrongHeader, Line: 1}
	}
	if rows, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, &LoadError{Kind: ErrParseInt, Line: 1, Err: err}
	}
	if dimensions, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, &LoadError{Kind: ErrParseInt, Line: 1, Err: err}
	}
	if rows < 0 || dimensions < 0 {
		return 0, 0, &LoadError{Kind: ErrParseInt, Line: 1, Err: strconv.ErrRange}
	}
	return rows, dimensions, nil
}

func parseVector(dimensions int, line string) (string, vector.Vector, *LoadError) {
	fields := strings.Split(line, " ")
	if fields[0] == "" {
		return "", nil, &LoadError{Kind: ErrMissingWord}
	}
	v := make(vector.Vector, 0, dimensions)
	for _, f := range fields[1:] {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", nil, &LoadError{Kind: ErrParseFloat, Err: err}
		}
		v = append(v, x)
	}
	if len(v) != dimensions {
		return "", nil, &LoadError{Kind: ErrWrongDimensionality, Expected: dimensions, Actual: len(v)}
	}
	return fields[0], v, nil
}

// Dimensions returns the dimensionality shared by every vector.
func (t *Table) Dimensions() int { return t.dimensions }

// Len returns the number of distinct words.
func (t *Table) Len() int { return len(t.words) }

// Lookup returns the embedding of word. The returned vector must not be modified.
func (t *Table) Lookup(word string) (vector.Vector, bool) {
	v, ok := t.words[word]
	return v, ok
}

// Encode returns the element-wise mean of the embeddings of the known words
// in utterance. Unknown words are ignored; ok is false when none are known.
func (t *Table) Encode(utterance string) (v vector.Vector, ok bool) {
	var count int
	for _, word := range Tokenize(utterance) {
		e, found := t.words[word]
		if !found {
			continue
		}
		if v == nil {
			v = make(vector.Vector, t.dimensions)
		}
		for i, x := range e {
			v[i] += x
		}
		count++
	}
	if count == 0 {
		return nil, false
	}
	n := float64(count)
	for i := range v {
		v[i] /= n
	}
	return v, true
}
