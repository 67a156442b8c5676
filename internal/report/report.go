package report

import "time"

// Record captures the outcome of one test script execution read from a
// result file.
type Record struct {
	Test       string        `json:"test"`
	Passed     bool          `json:"passed"`
	Status     string        `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Host       string        `json:"host,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
	Exceptions int           `json:"exceptions"`
	Message    string        `json:"message,omitempty"`
	LogFile    string        `json:"log_file,omitempty"`
	Screenshot string        `json:"screenshot,omitempty"`
	BuildURL   string        `json:"build_url,omitempty"`
	Source     string        `json:"source,omitempty"`
}

// IsPassed reports whether the test passed.
func (r Record) IsPassed() bool {
	return r.Passed
}

// Summary aggregates the records of a build report.
type Summary struct {
	Total      int   `json:"total"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Errors     int   `json:"errors"`
	Warnings   int   `json:"warnings"`
	Exceptions int   `json:"exceptions"`
	DurationMS int64 `json:"duration_ms"`
	Verdict    bool  `json:"verdict"`
}

// BuildReport is the ordered collection of records for one build. Records
// are kept in the order they were added and never removed.
type BuildReport struct {
	BuildURL string   `json:"build_url"`
	Records  []Record `json:"records"`
}

// New returns an empty report for the build at buildURL.
func New(buildURL string) *BuildReport {
	return &BuildReport{BuildURL: buildURL, Records: []Record{}}
}

// Add appends records preserving their order.
func (b *BuildReport) Add(records ...Record) {
	b.Records = append(b.Records, records...)
}

// Verdict is true when every record passed. An empty report passes.
func (b *BuildReport) Verdict() bool {
	for _, r := range b.Records {
		if !r.IsPassed() {
			return false
		}
	}
	return true
}

// Failed returns the records that did not pass, in report order.
func (b *BuildReport) Failed() []Record {
	var out []Record
	for _, r := range b.Records {
		if !r.IsPassed() {
			out = append(out, r)
		}
	}
	return out
}

// Summary computes totals over all records.
func (b *BuildReport) Summary() Summary {
	s := Summary{Total: len(b.Records), Verdict: true}
	for _, r := range b.Records {
		if r.IsPassed() {
			s.Passed++
		} else {
			s.Failed++
			s.Verdict = false
		}
		s.Errors += r.Errors
		s.Warnings += r.Warnings
		s.Exceptions += r.Exceptions
		s.DurationMS += r.DurationMS
	}
	return s
}
