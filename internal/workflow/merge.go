package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/assay-cli/internal/ingest"
	"github.com/sells-group/assay-cli/internal/model"
)

const fingerprintDomain = "assay/merge-input/v1"

// Fingerprint identifies the ordered set of merge inputs. It covers each
// file's name, byte length and content hash, in upload order.
func Fingerprint(files []model.UploadedFile) string {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0})
	for _, f := range files {
		fmt.Fprintf(h, "%d:%s\x00%d\x00%s\x00", len(f.Name), f.Name, f.Size, f.ContentHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash is the hex SHA-256 of raw upload bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// matchedFile is one ingested and matched merge input.
type matchedFile struct {
	table *model.NormalizedTable
	tests []model.Test
}

// matchFiles ingests and matches every file concurrently. Results keep file
// order; the first failure cancels the rest.
func (e *Engine) matchFiles(ctx context.Context, files []model.UploadedFile) ([]matchedFile, error) {
	out := make([]matchedFile, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			table, err := ingest.Ingest(f.Name, f.Data, e.cfg.Ingest)
			if err != nil {
				return eris.Wrapf(err, "workflow: ingest %s", f.Name)
			}
			out[i] = matchedFile{table: table, tests: ingest.Tests(table, e.matcher)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// joinLayout maps every file's columns onto the merged header list.
type joinLayout struct {
	headers []string
	// colMap[f][c] is the output index of column c of file f.
	colMap [][]int
}

// newJoinLayout builds the merged headers: metadata columns, then the union
// of file headers in first-seen order. A file header that collides with a
// metadata column is renamed with a "source_" prefix.
func newJoinLayout(files []matchedFile) joinLayout {
	l := joinLayout{headers: append([]string(nil), model.MergeMetaHeaders...)}
	index := make(map[string]int, len(l.headers))
	for i, h := range l.headers {
		index[h] = i
	}

	l.colMap = make([][]int, len(files))
	for fi, f := range files {
		l.colMap[fi] = make([]int, len(f.table.Headers))
		for ci, h := range f.table.Headers {
			if model.IsMergeMeta(h) {
				h = "source_" + h
			}
			pos, ok := index[h]
			if !ok {
				pos = len(l.headers)
				l.headers = append(l.headers, h)
				index[h] = pos
			}
			l.colMap[fi][ci] = pos
		}
	}
	return l
}

// rowRef points at one data row of one merge input.
type rowRef struct {
	file int
	row  int // 0-based
}

// join performs a full outer join of the matched files on entity id. For
// each entity the output holds the cartesian product of its row groups
// across the files that contain it. Matched rows come first in entity
// generation, id order; unmatched rows follow in file and row order.
// The output size is projected before any row is built; more than maxRows
// fails with KindMergeTooLarge.
func join(files []matchedFile, maxRows int) (*model.CachedMerge, error) {
	layout := newJoinLayout(files)

	type group struct {
		id         string
		generation int
		perFile    [][]rowRef
	}
	groups := make(map[string]*group)
	var unmatched []rowRef

	for fi, f := range files {
		for ri, t := range f.tests {
			ref := rowRef{file: fi, row: ri}
			if !t.Match.Matched() {
				unmatched = append(unmatched, ref)
				continue
			}
			g, ok := groups[t.Match.EntityID]
			if !ok {
				g = &group{id: t.Match.EntityID, generation: t.Match.Generation, perFile: make([][]rowRef, len(files))}
				groups[g.id] = g
			}
			g.perFile[fi] = append(g.perFile[fi], ref)
		}
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].generation != ordered[j].generation {
			return ordered[i].generation < ordered[j].generation
		}
		return ordered[i].id < ordered[j].id
	})

	present := make([][][]rowRef, len(ordered))
	projected := len(unmatched)
	for i, g := range ordered {
		for _, refs := range g.perFile {
			if len(refs) > 0 {
				present[i] = append(present[i], refs)
			}
		}
		projected = boundedAdd(projected, productSize(present[i], maxRows), maxRows)
	}
	if projected > maxRows {
		return nil, model.MergeTooLargeError(maxRows)
	}

	out := &model.CachedMerge{Headers: layout.headers, Rows: make([][]string, 0, projected)}
	for i := range ordered {
		for _, combo := range cartesian(present[i]) {
			out.Rows = append(out.Rows, layout.buildRow(files, combo))
			out.MatchedCount++
		}
	}
	for _, ref := range unmatched {
		out.Rows = append(out.Rows, layout.buildRow(files, []rowRef{ref}))
		out.UnmatchedCount++
	}
	for _, f := range files {
		out.Issues = append(out.Issues, f.table.Issues...)
	}
	return out, nil
}

// productSize is the number of combinations cartesian would return, capped
// at limit+1.
func productSize(lists [][]rowRef, limit int) int {
	if len(lists) == 0 {
		return 0
	}
	n := 1
	for _, list := range lists {
		if n > (limit+1)/len(list) {
			return limit + 1
		}
		n *= len(list)
	}
	return n
}

func boundedAdd(a, b, limit int) int {
	if a > limit-b {
		return limit + 1
	}
	return a + b
}

// cartesian returns every combination picking one ref from each list, with
// the last list varying fastest.
func cartesian(lists [][]rowRef) [][]rowRef {
	if len(lists) == 0 {
		return nil
	}
	out := [][]rowRef{{}}
	for _, list := range lists {
		next := make([][]rowRef, 0, len(out)*len(list))
		for _, prefix := range out {
			for _, ref := range list {
				combo := make([]rowRef, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, ref))
			}
		}
		out = next
	}
	return out
}

// buildRow coalesces the contributing rows into one output row. Shared
// columns take the first non-empty value in file order, and the match
// columns come from the best tier among the contributors.
func (l joinLayout) buildRow(files []matchedFile, refs []rowRef) []string {
	row := make([]string, len(l.headers))

	best := files[refs[0].file].tests[refs[0].row].Match
	sources := make([]string, 0, len(refs))
	for _, ref := range refs {
		f := files[ref.file]
		if m := f.tests[ref.row].Match; m.Tier > best.Tier {
			best = m
		}
		sources = append(sources, f.table.Filename+":"+strconv.Itoa(ref.row+1))
		for ci, v := range f.table.Rows[ref.row] {
			pos := l.colMap[ref.file][ci]
			if row[pos] == "" && v != "" {
				row[pos] = v
			}
		}
	}

	row[0] = best.EntityID
	row[1] = string(best.EntityKind)
	row[2] = best.EntityName
	row[3] = string(best.Method())
	row[4] = string(best.Confidence())
	row[5] = strconv.FormatFloat(best.Score(), 'f', 2, 64)
	row[6] = best.Reason
	row[7] = strings.Join(sources, ";")
	return row
}
