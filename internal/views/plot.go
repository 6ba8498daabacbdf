package views

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/assay-cli/internal/model"
)

// PlotRequest selects a plot type and optional axes.
type PlotRequest struct {
	PlotType model.PlotType `json:"plot_type"`
	X        string         `json:"x,omitempty"`
	Y        string         `json:"y,omitempty"`
}

const unmatchedLabel = "(unmatched)"

// ParsePlotType validates a plot type name.
func ParsePlotType(s string) (model.PlotType, error) {
	switch p := model.PlotType(strings.ToLower(strings.TrimSpace(s))); p {
	case model.PlotScatter, model.PlotLine, model.PlotBar, model.PlotHistogram, model.PlotBox:
		return p, nil
	default:
		return "", model.InvalidRequestError("unknown plot type %q (supported: scatter, line, bar, histogram, box)", s)
	}
}

// Visualize builds chart data for the merged table.
func Visualize(m *model.CachedMerge, req PlotRequest, opts Options) (*model.PlotSpec, error) {
	opts.applyDefaults()
	pt, err := ParsePlotType(string(req.PlotType))
	if err != nil {
		return nil, err
	}

	t := newTable(m)
	var data model.PlotData
	switch pt {
	case model.PlotScatter, model.PlotLine:
		data, err = t.xyPlot(req, pt == model.PlotLine)
	case model.PlotHistogram:
		data, err = t.histogram(req, opts.HistogramBins)
	case model.PlotBar:
		data, err = t.grouped(req, false)
	case model.PlotBox:
		data, err = t.grouped(req, true)
	}
	if err != nil {
		return nil, err
	}

	return &model.PlotSpec{
		PlotType: pt,
		Spec:     data,
		Columns:  t.headers,
		Shape:    t.shape(),
	}, nil
}

// numericAxis resolves an explicit numeric column, or the n-th default
// numeric column when name is empty.
func (t *table) numericAxis(name string, n int, exclude int) (int, error) {
	if name != "" {
		col, ok := t.column(name)
		if !ok {
			return -1, t.unknownColumn(name)
		}
		if !t.isNumeric(col) {
			return -1, model.InvalidRequestError("column %q is not numeric", t.headers[col])
		}
		return col, nil
	}

	numeric := t.numericColumns()
	seen := 0
	for _, c := range numeric {
		if c == exclude {
			continue
		}
		if seen == n {
			return c, nil
		}
		seen++
	}
	return -1, model.InvalidRequestError("not enough numeric columns (found %d)", len(numeric))
}

func (t *table) categoryAxis(name string) (int, error) {
	if name == "" {
		name = model.ColEntityID
	}
	col, ok := t.column(name)
	if !ok {
		return -1, t.unknownColumn(name)
	}
	return col, nil
}

func (t *table) xyPlot(req PlotRequest, sortByX bool) (model.PlotData, error) {
	x, err := t.numericAxis(req.X, 0, -1)
	if err != nil {
		return model.PlotData{}, err
	}
	y, err := t.numericAxis(req.Y, 0, x)
	if err != nil {
		return model.PlotData{}, err
	}

	data := model.PlotData{X: t.headers[x], Y: t.headers[y]}
	label, hasLabel := t.column(model.ColEntityID)
	for _, r := range t.rows {
		xv, okX := t.number(r, x)
		yv, okY := t.number(r, y)
		if !okX || !okY {
			data.Skipped++
			continue
		}
		p := model.Point{X: xv, Y: yv}
		if hasLabel {
			p.Label = t.cell(r, label)
		}
		data.Points = append(data.Points, p)
	}
	if sortByX {
		sort.SliceStable(data.Points, func(i, j int) bool { return data.Points[i].X < data.Points[j].X })
	}
	return data, nil
}

func (t *table) histogram(req PlotRequest, bins int) (model.PlotData, error) {
	x, err := t.numericAxis(req.X, 0, -1)
	if err != nil {
		return model.PlotData{}, err
	}

	data := model.PlotData{X: t.headers[x]}
	var values []float64
	for _, r := range t.rows {
		v, ok := t.number(r, x)
		if !ok {
			data.Skipped++
			continue
		}
		values = append(values, v)
	}
	data.Bins = histogramBins(values, bins)
	return data, nil
}

// histogramBins splits [min, max] into n equal bins. The last bin includes
// max. A single-valued input yields one bin.
func histogramBins(values []float64, n int) []model.Bin {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return []model.Bin{{Start: lo, End: hi, Count: len(values)}}
	}

	width := (hi - lo) / float64(n)
	out := make([]model.Bin, n)
	for i := range out {
		out[i].Start = lo + float64(i)*width
		out[i].End = lo + float64(i+1)*width
	}
	out[n-1].End = hi
	for _, v := range values {
		i := int((v - lo) / width)
		if i >= n {
			i = n - 1
		}
		out[i].Count++
	}
	return out
}

// grouped builds bar means or box summaries of y grouped by x.
func (t *table) grouped(req PlotRequest, box bool) (model.PlotData, error) {
	x, err := t.categoryAxis(req.X)
	if err != nil {
		return model.PlotData{}, err
	}
	y, err := t.numericAxis(req.Y, 0, -1)
	if err != nil {
		return model.PlotData{}, err
	}

	data := model.PlotData{X: t.headers[x], Y: t.headers[y]}
	var order []string
	groups := make(map[string][]float64)
	for _, r := range t.rows {
		v, ok := t.number(r, y)
		if !ok {
			data.Skipped++
			continue
		}
		label := t.cell(r, x)
		if label == "" {
			label = unmatchedLabel
		}
		if _, seen := groups[label]; !seen {
			order = append(order, label)
		}
		groups[label] = append(groups[label], v)
	}

	for _, label := range order {
		vals := groups[label]
		if box {
			data.Boxes = append(data.Boxes, fiveNumber(label, vals))
			continue
		}
		data.Categories = append(data.Categories, model.Category{Label: label, Value: mean(vals), Count: len(vals)})
	}
	return data, nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func fiveNumber(label string, vals []float64) model.BoxStats {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	return model.BoxStats{
		Label:  label,
		Min:    s[0],
		Q1:     quantile(s, 0.25),
		Median: quantile(s, 0.5),
		Q3:     quantile(s, 0.75),
		Max:    s[len(s)-1],
		Count:  len(s),
	}
}

// quantile interpolates linearly between closest ranks of sorted s.
func quantile(s []float64, q float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}
