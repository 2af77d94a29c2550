package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kotoba/internal/models"
)

const maxLineBytes = 1 << 20

// Pair is one prompt and the response that followed it.
type Pair struct {
	Prompt   string
	Response models.Response
}

// ReadTranscript reads a plain text transcript: one utterance per line, with
// a blank line between conversations. Every utterance becomes the response to
// the one before it in the same conversation.
func ReadTranscript(r io.Reader) ([]Pair, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		pairs    []Pair
		previous string
		inConv   bool
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			inConv = false
			continue
		}
		if inConv {
			pairs = append(pairs, Pair{Prompt: previous, Response: models.Response{Plain: line}})
		}
		previous, inConv = line, true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return pairs, nil
}

type jsonlRecord struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	HTML     string `json:"html"`
}

// ReadJSONL reads one {"prompt", "response", "html"} object per line. Blank
// lines are ignored; records without a prompt or response are rejected.
func ReadJSONL(r io.Reader) ([]Pair, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var pairs []Pair
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if rec.Prompt == "" || rec.Response == "" {
			return nil, fmt.Errorf("line %d: prompt and response are required", lineNo)
		}
		pairs = append(pairs, Pair{
			Prompt:   rec.Prompt,
			Response: models.Response{Plain: rec.Response, HTML: rec.HTML},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return pairs, nil
}
