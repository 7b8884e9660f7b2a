// Package consensus maps a collection of estimates to an agreement
// verdict and summary statistics. Pure and deterministic: no I/O, and
// mode ties resolve to the first value reaching the maximum count in
// input order.
package consensus

import (
	"math"
	"strconv"
)

// Estimate is one (player, value) pair in submission order.
type Estimate struct {
	PlayerID string
	Value    string
}

// Result summarizes one item's votes. Average and StdDev are computed
// only over values parseable as numbers and are nil when no vote is
// numeric. Distribution maps each literal value to its count.
type Result struct {
	ModeValue      string         `json:"modeValue"`
	AgreementRatio float64        `json:"agreementRatio"`
	Average        *float64       `json:"average"`
	StdDev         *float64       `json:"stdDev"`
	Distribution   map[string]int `json:"distribution"`
	TotalVotes     int            `json:"totalVotes"`
}

// Calculate groups votes by literal value and derives the mode,
// agreement ratio and numeric statistics.
func Calculate(estimates []Estimate) Result {
	res := Result{Distribution: make(map[string]int)}
	if len(estimates) == 0 {
		return res
	}
	res.TotalVotes = len(estimates)

	// Count per value, remembering first-seen order for tie-breaking.
	var order []string
	for _, e := range estimates {
		if _, seen := res.Distribution[e.Value]; !seen {
			order = append(order, e.Value)
		}
		res.Distribution[e.Value]++
	}

	best := -1
	for _, value := range order {
		if res.Distribution[value] > best {
			best = res.Distribution[value]
			res.ModeValue = value
		}
	}
	res.AgreementRatio = float64(best) / float64(res.TotalVotes)

	var nums []float64
	for _, e := range estimates {
		if f, err := strconv.ParseFloat(e.Value, 64); err == nil {
			nums = append(nums, f)
		}
	}
	if len(nums) > 0 {
		avg := mean(nums)
		sd := stdDev(nums, avg)
		res.Average = &avg
		res.StdDev = &sd
	}
	return res
}

func mean(nums []float64) float64 {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums))
}

func stdDev(nums []float64, avg float64) float64 {
	var sum float64
	for _, n := range nums {
		d := n - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(nums)))
}
