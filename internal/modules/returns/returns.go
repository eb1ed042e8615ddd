// Package returns derives daily return tables from close prices.
// It is the only place returns are computed; regression inputs must come from an aligned table.
package returns

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/riskboard/internal/domain"
)

// Table holds simple daily returns indexed by date.
// Values[symbol][i] is the return on Dates[i]; NaN marks a missing return in unaligned tables.
type Table struct {
	Dates   []time.Time
	Symbols []string
	Values  map[string][]float64
	Aligned bool
}

// Len returns the number of dates
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Dates)
}

// IsEmpty reports whether the table has no dates
func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

// Column returns the return series of symbol
func (t *Table) Column(symbol string) ([]float64, bool) {
	if t == nil {
		return nil, false
	}
	col, ok := t.Values[symbol]
	return col, ok
}

// Row returns the returns of every symbol on Dates[i]; missing values are omitted
func (t *Table) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(t.Symbols))
	for _, s := range t.Symbols {
		if v := t.Values[s][i]; !math.IsNaN(v) {
			row[s] = v
		}
	}
	return row
}

// Tail keeps the last n dates
func (t *Table) Tail(n int) *Table {
	if t == nil || n <= 0 || n >= len(t.Dates) {
		return t
	}
	from := len(t.Dates) - n
	out := &Table{
		Dates:   t.Dates[from:],
		Symbols: t.Symbols,
		Values:  make(map[string][]float64, len(t.Values)),
		Aligned: t.Aligned,
	}
	for s, col := range t.Values {
		out.Values[s] = col[from:]
	}
	return out
}

// Compute derives simple percent-change returns for symbols from their close series.
//
// With align, close series are first intersected on date so every return spans the same
// pair of trading days for every symbol; the table then has no missing values. A symbol
// without prices empties an aligned table. Without align, each symbol's returns are
// taken between its own consecutive closes and missing dates hold NaN.
func Compute(prices map[string][]domain.PricePoint, symbols []string, align bool) *Table {
	symbols = uniqueSymbols(symbols)
	t := &Table{Symbols: symbols, Values: make(map[string][]float64, len(symbols)), Aligned: align}
	if len(symbols) == 0 {
		return t
	}

	closes := make(map[string]map[time.Time]float64, len(symbols))
	for _, s := range symbols {
		m := make(map[time.Time]float64, len(prices[s]))
		for _, p := range prices[s] {
			if p.Close > 0 && !math.IsNaN(p.Close) {
				m[domain.DateOnly(p.Date)] = p.Close
			}
		}
		closes[s] = m
	}

	if align {
		return computeAligned(t, closes)
	}
	return computeUnaligned(t, closes)
}

func computeAligned(t *Table, closes map[string]map[time.Time]float64) *Table {
	var common []time.Time
	for d := range closes[t.Symbols[0]] {
		inAll := true
		for _, s := range t.Symbols[1:] {
			if _, ok := closes[s][d]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, d)
		}
	}
	sortDates(common)

	if len(common) < 2 {
		for _, s := range t.Symbols {
			t.Values[s] = []float64{}
		}
		return t
	}

	t.Dates = common[1:]
	for _, s := range t.Symbols {
		col := make([]float64, len(common)-1)
		for i := 1; i < len(common); i++ {
			prev, cur := closes[s][common[i-1]], closes[s][common[i]]
			col[i-1] = (cur - prev) / prev
		}
		t.Values[s] = col
	}
	return t
}

func computeUnaligned(t *Table, closes map[string]map[time.Time]float64) *Table {
	perSymbol := make(map[string]map[time.Time]float64, len(t.Symbols))
	dateSet := make(map[time.Time]bool)

	for _, s := range t.Symbols {
		dates := make([]time.Time, 0, len(closes[s]))
		for d := range closes[s] {
			dates = append(dates, d)
		}
		sortDates(dates)

		r := make(map[time.Time]float64, len(dates))
		for i := 1; i < len(dates); i++ {
			prev, cur := closes[s][dates[i-1]], closes[s][dates[i]]
			r[dates[i]] = (cur - prev) / prev
			dateSet[dates[i]] = true
		}
		perSymbol[s] = r
	}

	t.Dates = make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		t.Dates = append(t.Dates, d)
	}
	sortDates(t.Dates)

	for _, s := range t.Symbols {
		col := make([]float64, len(t.Dates))
		for i, d := range t.Dates {
			if v, ok := perSymbol[s][d]; ok {
				col[i] = v
			} else {
				col[i] = math.NaN()
			}
		}
		t.Values[s] = col
	}
	return t
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}

func uniqueSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
