package crawl

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Outcome classifies the result of a single fetch attempt.
type Outcome string

// Fetch outcomes reported to the throttle controller and circuit breaker.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeBlocked      Outcome = "blocked"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNetworkError Outcome = "network_error"
)

// Failed reports whether the outcome counts as a failure for breaker and
// throttle purposes. Application-level empty results are not failures.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess
}

// Task is one unit of crawl work: a keyword and location applied to either a
// set of job boards or a company career-page URL template.
type Task struct {
	Keyword     string   `json:"keyword"`
	Location    string   `json:"location"`
	URLTemplate string   `json:"url_template,omitempty"`
	Boards      []string `json:"boards,omitempty"`
	JSRender    bool     `json:"js_render,omitempty"`
}

// IsBoardSearch reports whether the task goes through the job-board search
// provider instead of the fetch pipeline.
func (t Task) IsBoardSearch() bool {
	return len(t.Boards) > 0
}

// BuildURL substitutes the keyword and location placeholders into the task's
// URL template.
func (t Task) BuildURL() (string, error) {
	if strings.TrimSpace(t.URLTemplate) == "" {
		return "", fmt.Errorf("task has no url template")
	}
	keyword := strings.ReplaceAll(t.Keyword, " ", "+")
	location := strings.ReplaceAll(t.Location, " ", "+")
	location = strings.ReplaceAll(location, ",", "%2C")
	built := strings.ReplaceAll(t.URLTemplate, "{keyword}", keyword)
	built = strings.ReplaceAll(built, "{location}", location)
	if _, err := url.ParseRequestURI(built); err != nil {
		return "", fmt.Errorf("built url %q: %w", built, err)
	}
	return built, nil
}

// Validate checks the task is well formed before dispatch.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Keyword) == "" {
		return fmt.Errorf("task keyword is required")
	}
	if t.IsBoardSearch() {
		return nil
	}
	if _, err := t.BuildURL(); err != nil {
		return err
	}
	return nil
}

// Viewport is a browser window size emulated by rendered fetches.
type Viewport struct {
	Width  int
	Height int
}

// Identity is the request fingerprint used for one or more fetches: a
// user-agent, header bag, optional proxy, and viewport for rendered pages.
type Identity struct {
	UserAgent string
	Headers   http.Header
	Proxy     string
	Viewport  Viewport
}

// FetchRequest captures everything the fetcher needs for a single attempt.
type FetchRequest struct {
	URL    string
	Render bool
}

// FetchResult is the outcome of exactly one fetch attempt.
type FetchResult struct {
	URL        string
	Outcome    Outcome
	StatusCode int
	Body       []byte
	Latency    time.Duration
	Identity   Identity
	FetchedAt  time.Time
	Err        error
}

// PostingFields holds the structured fields extracted for one job posting.
type PostingFields struct {
	SourceSite    string `json:"source_site"`
	SourceURL     string `json:"source_url"`
	SearchKeyword string `json:"search_keyword"`
	Title         string `json:"title"`
	Company       string `json:"company"`
	Location      string `json:"location,omitempty"`
	SalaryRange   string `json:"salary_range,omitempty"`
	Description   string `json:"description,omitempty"`
	PostedDate    string `json:"posted_date,omitempty"`
}

// Classification is the dedup engine's verdict for one posting.
type Classification string

// Posting classifications.
const (
	ClassNew       Classification = "new"
	ClassUpdated   Classification = "updated"
	ClassUnchanged Classification = "unchanged"
)

// Fingerprint is the stable identity of one posting across crawls.
type Fingerprint struct {
	URL         string
	ContentHash string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// Pattern is a reusable set of CSS selectors for a site template. The core
// applies it verbatim; the selectors themselves come from the extraction
// service.
type Pattern struct {
	JobList  string `json:"job_list_selector"`
	Title    string `json:"title_selector"`
	Company  string `json:"company_selector"`
	Location string `json:"location_selector"`
	URL      string `json:"url_selector"`
	Salary   string `json:"salary_selector,omitempty"`
}

// Empty reports whether the pattern carries no usable selectors.
func (p Pattern) Empty() bool {
	return p.JobList == ""
}

// PatternRecord is a cached pattern plus its bookkeeping.
type PatternRecord struct {
	Signature     string
	Pattern       Pattern
	SuccessCount  int
	LastValidated time.Time
}

// ExtractionResult is what the extraction service returns for one page.
type ExtractionResult struct {
	Postings []PostingFields
	Pattern  *Pattern
}

// RunCounts aggregates posting classifications for one crawl run.
type RunCounts struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// Add accumulates other into c.
func (c *RunCounts) Add(other RunCounts) {
	c.New += other.New
	c.Updated += other.Updated
	c.Unchanged += other.Unchanged
	c.Errors += other.Errors
}

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run status values persisted through the posting store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CrawlRun records one (keyword, source) crawl attempt.
type CrawlRun struct {
	ID        string
	Keyword   string
	Source    string
	Status    RunStatus
	Started   time.Time
	Finished  *time.Time
	Counts    RunCounts
	ErrorText string
}

// TaskResult is the per-task entry in a batch result.
type TaskResult struct {
	Task    Task
	URL     string
	Counts  RunCounts
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the task ended in error.
func (r TaskResult) Failed() bool {
	return r.Err != nil
}

// BatchResult aggregates every task outcome of one orchestrator run. A single
// task failure never aborts the batch, so both slices can be non-empty.
type BatchResult struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Tasks    []TaskResult
	Totals   RunCounts
}

// FailedTasks returns the subset of task results that ended in error.
func (b BatchResult) FailedTasks() []TaskResult {
	var failed []TaskResult
	for _, t := range b.Tasks {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}
