// Package candidates reads the ranked candidate list produced by the
// external discovery process. The list is re-read every cycle and treated
// as ephemeral: a missing or malformed file is an empty list, never a fault.
package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// Source yields the current candidate list. Implementations re-read their
// backing store on every call.
type Source interface {
	Load(ctx context.Context) ([]types.Candidate, error)
}

// FileSource reads candidates from a JSON file written by the discovery
// process. The file is either a top-level array of candidate objects or an
// object with a "symbols" array.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a file-backed candidate source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "candidates"),
	}
}

// Load reads and parses the candidate file, returning candidates sorted by
// descending score. A missing file yields an empty list and no error.
func (s *FileSource) Load(ctx context.Context) ([]types.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read candidate file: %w", err)
	}

	rows, err := splitRows(data)
	if err != nil {
		return nil, fmt.Errorf("parse candidate file: %w", err)
	}

	var (
		cands      []types.Candidate
		skippedRow int
		skippedPx  int
	)
	for _, raw := range rows {
		var row candidateRow
		if err := json.Unmarshal(raw, &row); err != nil {
			skippedRow++
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		price, ok := row.price()
		if symbol == "" || !ok || price.LessThanOrEqual(decimal.Zero) {
			skippedPx++
			continue
		}
		cands = append(cands, types.Candidate{
			Symbol:     symbol,
			Price:      price,
			Confidence: row.grade(),
			Score:      row.Score,
			Strategy:   row.Strategy,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})

	if skippedRow > 0 || skippedPx > 0 {
		s.logger.Debug("skipped candidate rows",
			"malformed", skippedRow,
			"no_price", skippedPx,
			"loaded", len(cands))
	}
	return cands, nil
}

// splitRows returns the raw candidate objects from either accepted document
// shape.
func splitRows(data []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var rows []json.RawMessage
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var doc struct {
		Symbols []json.RawMessage `json:"symbols"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Symbols, nil
}

type candidateRow struct {
	Symbol     string      `json:"symbol"`
	LastPrice  json.Number `json:"last_price"`
	Last       json.Number `json:"last"`
	Confidence any         `json:"confidence"`
	Score      float64     `json:"score"`
	Strategy   string      `json:"strategy"`
}

// price returns last_price, falling back to last.
func (r candidateRow) price() (decimal.Decimal, bool) {
	for _, n := range []json.Number{r.LastPrice, r.Last} {
		if n == "" {
			continue
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			continue
		}
		return d, true
	}
	return decimal.Decimal{}, false
}

// grade maps the confidence field, which may be a letter string or a
// continuous score, onto the grade scale.
func (r candidateRow) grade() types.Grade {
	switch v := r.Confidence.(type) {
	case string:
		return types.ParseGrade(v)
	case float64:
		return types.GradeFromScore(v)
	default:
		return types.GradeUnknown
	}
}
