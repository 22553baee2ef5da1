// Package gapresolver reduces a requested trading-day window to the
// minimal set of upstream fetch sub-windows, given which trading days
// are already stored. It performs no I/O: callers supply the trading
// days and the stored-date set, both obtained from a single range
// lookup apiece.
package gapresolver

// Window is one upstream sub-window to fetch, expressed as the
// inclusive [Start, End] trading-day bounds.
type Window struct {
	Start string
	End   string
	Hot   bool // touches today_in_market while the market is open; see HistoricalEngine
}

// Plan is the ordered list of sub-windows GapResolver emits. Empty
// means every requested trading day is already stored and not hot.
type Plan []Window

// Resolve implements §4.4's procedure: partition the trading days in
// [start, end] that are not present in stored into maximal contiguous
// runs (contiguous under the successor relation of tradingDays, not of
// the calendar), and mark the run touching todayInMarket as hot when
// marketOpen is true and the last day of tradingDays is todayInMarket.
//
// tradingDays must be the ascending, deduplicated trading-day sequence
// for [start, end]; stored is the subset of those days already present
// in BarStore, determined by a single range scan.
func Resolve(tradingDays []string, stored map[string]struct{}, todayInMarket string, marketOpen bool) Plan {
	if len(tradingDays) == 0 {
		return nil
	}

	hotEligible := marketOpen && tradingDays[len(tradingDays)-1] == todayInMarket

	var missingRuns []Window
	var runStart string
	inRun := false
	for _, d := range tradingDays {
		_, present := stored[d]
		if !present {
			if !inRun {
				runStart = d
				inRun = true
			}
			continue
		}
		if inRun {
			missingRuns = append(missingRuns, Window{Start: runStart, End: prevOf(tradingDays, d)})
			inRun = false
		}
	}
	if inRun {
		missingRuns = append(missingRuns, Window{Start: runStart, End: tradingDays[len(tradingDays)-1]})
	}

	if !hotEligible {
		return Plan(missingRuns)
	}

	// The last trading day is today and the market is open: the run
	// touching it is hot, whether or not today was already missing.
	if len(missingRuns) > 0 && missingRuns[len(missingRuns)-1].End == tradingDays[len(tradingDays)-1] {
		missingRuns[len(missingRuns)-1].Hot = true
		expandHotRun(&missingRuns[len(missingRuns)-1], tradingDays)
		return Plan(missingRuns)
	}

	// Today was already present and not part of a missing run: emit a
	// hot run covering just today so the engine refetches it.
	hotRun := Window{Start: todayInMarket, End: todayInMarket, Hot: true}
	expandHotRun(&hotRun, tradingDays)
	return Plan(append(missingRuns, hotRun))
}

// prevOf returns the trading day immediately preceding d in the
// ascending tradingDays sequence, or d itself if d is the first.
func prevOf(tradingDays []string, d string) string {
	for i, td := range tradingDays {
		if td == d {
			if i == 0 {
				return d
			}
			return tradingDays[i-1]
		}
	}
	return d
}

// expandHotRun widens a hot run by at most one trading day on each
// side, per §4.4's tie-break, to absorb upstream off-by-one quirks
// around the session boundary.
func expandHotRun(w *Window, tradingDays []string) {
	startIdx, endIdx := -1, -1
	for i, d := range tradingDays {
		if d == w.Start {
			startIdx = i
		}
		if d == w.End {
			endIdx = i
		}
	}
	if startIdx > 0 {
		w.Start = tradingDays[startIdx-1]
	}
	if endIdx >= 0 && endIdx < len(tradingDays)-1 {
		w.End = tradingDays[endIdx+1]
	}
}
