package attendance

import "math"

// Stats aggregates a roster. Always recomputed from the records.
type Stats struct {
	Total          int     `json:"total_students"`
	Present        int     `json:"present_count"`
	Absent         int     `json:"absent_count"`
	Late           int     `json:"late_count"`
	NotMarked      int     `json:"not_marked_count"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// ComputeStats counts statuses. Late counts as attended; an empty roster
// has a rate of 0.
func ComputeStats(records []Record) Stats {
	var s Stats
	s.Total = len(records)
	for _, r := range records {
		switch r.Status {
		case StatusPresent:
			s.Present++
		case StatusAbsent:
			s.Absent++
		case StatusLate:
			s.Late++
		default:
			s.NotMarked++
		}
	}
	if s.Total > 0 {
		s.AttendanceRate = round2(float64(s.Present+s.Late) / float64(s.Total) * 100)
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
