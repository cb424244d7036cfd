package chart

import "strings"

type Kind string

const (
	KindNone      Kind = "none"
	KindLine      Kind = "line"
	KindBar       Kind = "bar"
	KindScatter   Kind = "scatter"
	KindHistogram Kind = "histogram"
)

// Spec names the chart shape and which result columns feed each axis.
// It carries no data.
type Spec struct {
	Kind  Kind   `json:"kind"`
	X     string `json:"x,omitempty"`
	Y     string `json:"y,omitempty"`
	Color string `json:"color,omitempty"`
}

const noneHint = "Visualization not auto-detected. Refine your query to return 2 or 3 columns."

func (s Spec) Title() string {
	switch s.Kind {
	case KindLine:
		return "Line Chart"
	case KindBar:
		return "Bar Chart"
	case KindScatter:
		return "Scatter Plot"
	case KindHistogram:
		return "Histogram"
	default:
		return noneHint
	}
}

// Select picks a chart from the result's column names. The first matching
// rule wins:
//
//	2+ columns, first named like a date or time  -> line(x=c0, y=c1)
//	exactly 2 columns                            -> bar(x=c0, y=c1)
//	exactly 3 columns                            -> scatter(x=c0, y=c1, color=c2)
//	exactly 1 column                             -> histogram(x=c0)
//	anything else                                -> none
//
// A rule that needs more names than columns holds yields none.
func Select(columns []string, columnCount int) Spec {
	switch {
	case columnCount >= 2 && len(columns) > 0 && isTemporal(columns[0]):
		if len(columns) < 2 {
			return Spec{Kind: KindNone}
		}
		return Spec{Kind: KindLine, X: columns[0], Y: columns[1]}
	case columnCount == 2:
		if len(columns) < 2 {
			return Spec{Kind: KindNone}
		}
		return Spec{Kind: KindBar, X: columns[0], Y: columns[1]}
	case columnCount == 3:
		if len(columns) < 3 {
			return Spec{Kind: KindNone}
		}
		return Spec{Kind: KindScatter, X: columns[0], Y: columns[1], Color: columns[2]}
	case columnCount == 1:
		if len(columns) < 1 {
			return Spec{Kind: KindNone}
		}
		return Spec{Kind: KindHistogram, X: columns[0]}
	default:
		return Spec{Kind: KindNone}
	}
}

func isTemporal(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time")
}
