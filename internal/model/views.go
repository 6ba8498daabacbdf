package model

// PlotType is a supported chart family.
type PlotType string

const (
	PlotScatter   PlotType = "scatter"
	PlotLine      PlotType = "line"
	PlotBar       PlotType = "bar"
	PlotHistogram PlotType = "histogram"
	PlotBox       PlotType = "box"
)

// Point is one x/y pair of a scatter or line plot.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label,omitempty"`
}

// Category is one aggregated bar.
type Category struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Bin is one histogram bucket covering [Start, End).
type Bin struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Count int     `json:"count"`
}

// BoxStats is the five-number summary of one group.
type BoxStats struct {
	Label  string  `json:"label"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// PlotData is the chart-ready payload; only the field matching the plot
// type is populated.
type PlotData struct {
	X          string     `json:"x"`
	Y          string     `json:"y,omitempty"`
	Points     []Point    `json:"points,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Bins       []Bin      `json:"bins,omitempty"`
	Boxes      []BoxStats `json:"boxes,omitempty"`
	Skipped    int        `json:"skipped_rows"`
}

// PlotSpec is the output of a visualize request.
type PlotSpec struct {
	PlotType PlotType `json:"plot_type"`
	Spec     PlotData `json:"spec"`
	Columns  []string `json:"columns"`
	Shape    [2]int   `json:"shape"`
}

// DatasetInfo summarizes a merged table.
type DatasetInfo struct {
	Rows           int      `json:"rows"`
	Columns        int      `json:"columns"`
	Matched        int      `json:"matched"`
	Unmatched      int      `json:"unmatched"`
	MatchRate      float64  `json:"match_rate"`
	NumericColumns []string `json:"numeric_columns"`
}

// QualityIssue is a data-quality observation on the merged table.
type QualityIssue struct {
	Column string `json:"column,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Correlation is the Pearson coefficient of two numeric columns.
type Correlation struct {
	X     string  `json:"x"`
	Y     string  `json:"y"`
	R     float64 `json:"r"`
	Pairs int     `json:"pairs"`
}

// AnalysisReport is the output of an analyze request.
type AnalysisReport struct {
	DatasetInfo     DatasetInfo    `json:"dataset_info"`
	QualityIssues   []QualityIssue `json:"quality_issues"`
	Correlations    []Correlation  `json:"correlations"`
	Recommendations []string       `json:"recommendations"`
}

// QueryResult is the output of a query request.
type QueryResult struct {
	Predicate     string     `json:"predicate"`
	FilteredShape [2]int     `json:"filtered_shape"`
	RowsRemoved   int        `json:"rows_removed"`
	Columns       []string   `json:"columns"`
	SampleRows    [][]string `json:"sample_rows"`
}
