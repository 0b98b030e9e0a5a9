package expr

import (
	"math"
	"sort"

	"alarmcore/internal/domain"
)

// Frame is the minute-aligned view of one alarm window.
// Params: Slots ordered oldest to newest; each slot maps metric name to the value of that minute.
// Returns: evaluation input; empty slots are nil maps.
type Frame struct {
	Slots []map[string]domain.MetricValue
}

type point struct {
	v  float64
	ok bool
}

type series struct {
	key    string
	points []point
}

// result is either a scalar or a set of label-keyed series.
type result struct {
	scalar bool
	num    float64
	series []series
}

// Evaluate runs expression over frame.
// Params: frame with period + AdditionalPeriod slots.
// Returns: true when any label set reduces to 1.
func (e *Expression) Evaluate(frame Frame) bool {
	matched, _ := e.EvaluateDetail(frame)
	return matched
}

// EvaluateDetail runs expression and reports matching label sets.
// Params: frame with period + AdditionalPeriod slots.
// Returns: match flag and sorted label keys that matched ("" for unlabeled).
func (e *Expression) EvaluateDetail(frame Frame) (bool, []string) {
	if len(frame.Slots) <= e.lookback {
		return false, nil
	}
	ev := evaluator{slots: frame.Slots, lookback: e.lookback}
	out := ev.eval(e.root)
	if out.scalar {
		return out.num == 1, nil
	}
	var matchedKeys []string
	for _, s := range out.series {
		if len(s.points) == 0 {
			continue
		}
		last := s.points[len(s.points)-1]
		if last.ok && last.v == 1 {
			matchedKeys = append(matchedKeys, s.key)
		}
	}
	sort.Strings(matchedKeys)
	return len(matchedKeys) > 0, matchedKeys
}

type evaluator struct {
	slots    []map[string]domain.MetricValue
	lookback int
}

func (ev evaluator) eval(n node) result {
	switch typed := n.(type) {
	case numberNode:
		return result{scalar: true, num: typed.value}
	case *metricNode:
		return result{series: trimFront(ev.metricSeries(typed), ev.lookback)}
	case trendNode:
		return result{series: ev.trend(typed)}
	case aggregateNode:
		return aggregate(typed.fn, ev.eval(typed.arg))
	case negateNode:
		return apply(tokStar, ev.eval(typed.arg), result{scalar: true, num: -1})
	case binaryNode:
		return apply(typed.op, ev.eval(typed.left), ev.eval(typed.right))
	default:
		return result{}
	}
}

// metricSeries builds full-length series for metric, one per label set.
func (ev evaluator) metricSeries(metric *metricNode) []series {
	if metric.def.Kind != KindLabeled {
		points := make([]point, len(ev.slots))
		for i, slot := range ev.slots {
			value, ok := slot[metric.name]
			if !ok {
				continue
			}
			if v, ok := value.Scalar(); ok {
				points[i] = point{v: v, ok: true}
			}
		}
		return []series{{points: points}}
	}

	index := make(map[string]int)
	var out []series
	for i, slot := range ev.slots {
		value, ok := slot[metric.name]
		if !ok || value.Type != domain.ValueLabeled {
			continue
		}
		for _, entry := range value.L {
			if !selectorsMatch(metric.selectors, entry.Labels) {
				continue
			}
			key := entry.LabelKey()
			pos, seen := index[key]
			if !seen {
				pos = len(out)
				index[key] = pos
				out = append(out, series{key: key, points: make([]point, len(ev.slots))})
			}
			out[pos].points[i] = point{v: entry.Value, ok: true}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// selectorsMatch requires every selector key to be present with one of the listed values.
func selectorsMatch(selectors []labelSelector, labels map[string]string) bool {
	for _, selector := range selectors {
		value, ok := labels[selector.key]
		if !ok {
			return false
		}
		found := false
		for _, allowed := range selector.values {
			if allowed == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (ev evaluator) trend(n trendNode) []series {
	full := ev.metricSeries(n.metric)
	out := make([]series, 0, len(full))
	for _, s := range full {
		if len(s.points) <= n.span {
			continue
		}
		points := make([]point, len(s.points)-n.span)
		for i := range points {
			current := s.points[i+n.span]
			previous := s.points[i]
			if !current.ok || !previous.ok {
				continue
			}
			delta := current.v - previous.v
			if n.fn == "rate" {
				delta /= float64(n.span * 60)
			}
			points[i] = point{v: delta, ok: true}
		}
		out = append(out, series{key: s.key, points: points})
	}
	return trimFront(out, ev.lookback-n.span)
}

func trimFront(in []series, count int) []series {
	if count <= 0 {
		return in
	}
	for i := range in {
		if len(in[i].points) > count {
			in[i].points = in[i].points[count:]
		} else {
			in[i].points = nil
		}
	}
	return in
}

func aggregate(fn string, in result) result {
	if in.scalar {
		return in
	}
	out := result{series: make([]series, 0, len(in.series))}
	for _, s := range in.series {
		var (
			acc   float64
			count int
		)
		for _, p := range s.points {
			if !p.ok {
				continue
			}
			switch {
			case count == 0:
				acc = p.v
			case fn == "max":
				acc = math.Max(acc, p.v)
			case fn == "min":
				acc = math.Min(acc, p.v)
			default:
				acc += p.v
			}
			count++
		}
		reduced := point{}
		switch {
		case fn == "count":
			reduced = point{v: float64(count), ok: true}
		case count == 0:
		case fn == "avg":
			reduced = point{v: acc / float64(count), ok: true}
		default:
			reduced = point{v: acc, ok: true}
		}
		out.series = append(out.series, series{key: s.key, points: []point{reduced}})
	}
	return out
}

func apply(op tokenKind, left, right result) result {
	if left.scalar && right.scalar {
		v, ok := applyPoint(op, point{v: left.num, ok: true}, point{v: right.num, ok: true})
		return result{scalar: true, num: v, series: nil}.withValidity(ok)
	}
	if left.scalar {
		return result{series: mapSeries(right.series, func(p point) point { return combine(op, point{v: left.num, ok: true}, p) })}
	}
	if right.scalar {
		return result{series: mapSeries(left.series, func(p point) point { return combine(op, p, point{v: right.num, ok: true}) })}
	}

	out := result{}
	switch {
	case len(right.series) == 1 && right.series[0].key == "":
		for _, l := range left.series {
			out.series = append(out.series, zipSeries(op, l.key, l.points, right.series[0].points))
		}
	case len(left.series) == 1 && left.series[0].key == "":
		for _, r := range right.series {
			out.series = append(out.series, zipSeries(op, r.key, left.series[0].points, r.points))
		}
	default:
		byKey := make(map[string][]point, len(right.series))
		for _, r := range right.series {
			byKey[r.key] = r.points
		}
		for _, l := range left.series {
			if points, ok := byKey[l.key]; ok {
				out.series = append(out.series, zipSeries(op, l.key, l.points, points))
			}
		}
	}
	return out
}

// withValidity turns an invalid scalar (division by zero) into an empty result.
func (r result) withValidity(ok bool) result {
	if ok {
		return r
	}
	return result{}
}

func mapSeries(in []series, fn func(point) point) []series {
	out := make([]series, 0, len(in))
	for _, s := range in {
		points := make([]point, len(s.points))
		for i, p := range s.points {
			points[i] = fn(p)
		}
		out = append(out, series{key: s.key, points: points})
	}
	return out
}

// zipSeries combines two aligned series; a one-point side broadcasts over the other.
func zipSeries(op tokenKind, key string, left, right []point) series {
	switch {
	case len(left) == 1 && len(right) > 1:
		points := make([]point, len(right))
		for i := range right {
			points[i] = combine(op, left[0], right[i])
		}
		return series{key: key, points: points}
	case len(right) == 1 && len(left) > 1:
		points := make([]point, len(left))
		for i := range left {
			points[i] = combine(op, left[i], right[0])
		}
		return series{key: key, points: points}
	}
	size := len(left)
	if len(right) < size {
		size = len(right)
	}
	points := make([]point, size)
	lOffset, rOffset := len(left)-size, len(right)-size
	for i := 0; i < size; i++ {
		points[i] = combine(op, left[lOffset+i], right[rOffset+i])
	}
	return series{key: key, points: points}
}

func combine(op tokenKind, left, right point) point {
	if !left.ok || !right.ok {
		return point{}
	}
	v, ok := applyPoint(op, left, right)
	return point{v: v, ok: ok}
}

func applyPoint(op tokenKind, left, right point) (float64, bool) {
	switch op {
	case tokPlus:
		return left.v + right.v, true
	case tokMinus:
		return left.v - right.v, true
	case tokStar:
		return left.v * right.v, true
	case tokSlash:
		if right.v == 0 {
			return 0, false
		}
		return left.v / right.v, true
	case tokLT:
		return boolPoint(left.v < right.v), true
	case tokLE:
		return boolPoint(left.v <= right.v), true
	case tokGT:
		return boolPoint(left.v > right.v), true
	case tokGE:
		return boolPoint(left.v >= right.v), true
	case tokEQ:
		return boolPoint(left.v == right.v), true
	case tokNE:
		return boolPoint(left.v != right.v), true
	}
	return 0, false
}

func boolPoint(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
