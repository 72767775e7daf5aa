package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/metrics"
)

// Record type the site uses for completion deltas
const completionRecordType = "chat:completion"

// siteRecord is one decoded line of the site's completion stream
type siteRecord struct {
	Type string `json:"type"`
	Data *struct {
		DeltaContent *string `json:"delta_content"`
		Phase        string  `json:"phase"`
		Done         bool    `json:"done"`
	} `json:"data"`
}

// Delta is the text carried by one relevant record
type Delta struct {
	Text  string
	Phase string
	Done  bool
}

// Translator turns the site's line-delimited event stream into text deltas.
// It keeps the accumulated text so a tool call can be extracted once the
// body is exhausted.
type Translator struct {
	acc      strings.Builder
	records  int
	skipped  int
	failures int
	sawDone  bool
}

// NewTranslator creates an empty translator
func NewTranslator() *Translator {
	return &Translator{}
}

// DecodeLine interprets one line. ok is false for lines that carry no delta:
// blank lines, comments, the [DONE] sentinel, and records of other types.
// A line that is not valid JSON returns an error wrapping ErrDecode.
func (t *Translator) DecodeLine(line string) (d Delta, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return Delta{}, false, nil
	}
	if strings.HasPrefix(line, "data:") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	} else if strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
		return Delta{}, false, nil
	}
	if line == "" || line == "[DONE]" {
		return Delta{}, false, nil
	}

	var rec siteRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.failures++
		return Delta{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	t.records++

	if rec.Type != completionRecordType || rec.Data == nil || rec.Data.DeltaContent == nil {
		t.skipped++
		return Delta{}, false, nil
	}

	if rec.Data.Done {
		t.sawDone = true
	}
	d = Delta{Text: *rec.Data.DeltaContent, Phase: rec.Data.Phase, Done: rec.Data.Done}
	t.acc.WriteString(d.Text)
	return d, true, nil
}

// Run reads r line by line until EOF, calling emit for every non-empty delta
// in stream order. Undecodable lines are logged and skipped. emit returning
// false stops the read. Only read errors from r are returned.
func (t *Translator) Run(r io.Reader, emit func(Delta) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, readErr := br.ReadString('\n')
		if line != "" {
			d, ok, err := t.DecodeLine(line)
			if err != nil {
				metrics.DecodeErrors.Inc()
				L_trace("bridge: undecodable stream line", "error", err, "line", truncate(strings.TrimSpace(line), 200))
			} else if ok && d.Text != "" {
				if !emit(d) {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// Text returns everything accumulated so far
func (t *Translator) Text() string {
	return t.acc.String()
}

// Stats returns decoded, skipped and failed record counts
func (t *Translator) Stats() (records, skipped, failures int) {
	return t.records, t.skipped, t.failures
}

// SawDone reports whether the site marked a record as final
func (t *Translator) SawDone() bool {
	return t.sawDone
}
