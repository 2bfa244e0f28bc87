package tasking

import (
	"regexp"
	"strings"
)

const (
	keywordStatus        = "status"
	keywordSuspendStatus = "suspend_status"
	keywordJobs          = "jobs"
	keywordRun           = "run"
	keywordStop          = "stop"
	keywordBuilds        = "builds"
	keywordLatest        = "latest"
	keywordExecutor      = "executor"

	queryNoParameters = "parameters=false"
)

var markerPattern = regexp.MustCompile("^.*" + regexp.QuoteMeta(APIMarker) + "/?")

// pathParams is the tokenized path. Positions are filled left to right and a
// position is either set or absent; an empty segment still counts as set.
type pathParams struct {
	values [4]string
	set    [4]bool
}

func (p *pathParams) put(i int, v string) {
	p.values[i] = v
	p.set[i] = true
}

// shape reports exactly which positions are populated.
func (p pathParams) shape(positions ...int) bool {
	var want [4]bool
	for _, i := range positions {
		want[i] = true
	}
	return want == p.set
}

// list returns only the populated positions, in index order.
func (p pathParams) list() []string {
	out := make([]string, 0, len(p.values))
	for i, v := range p.values {
		if p.set[i] {
			out = append(out, v)
		}
	}
	return out
}

func isControlKeyword(s string) bool {
	return s == keywordBuilds || s == keywordRun || s == keywordStop
}

// tokenize splits the path after APIMarker into resource, sub-identifier,
// control keyword and build selector.
func tokenize(url string) pathParams {
	var p pathParams

	segments := strings.Split(markerPattern.ReplaceAllString(url, ""), "/")
	p.put(0, segments[0])

	last := len(segments) - 1
	for i := 1; i <= last; i++ {
		seg := segments[i]
		switch {
		case i == last && isControlKeyword(seg):
			p.put(2, seg)
		case i == last-1 && seg == keywordBuilds:
			p.put(2, seg)
			p.put(3, segments[i+1])
			return p
		case p.set[1]:
			p.values[1] += "/" + seg
		default:
			p.put(1, seg)
		}
	}
	return p
}

// Route is the operation a task resolves to.
type Route interface {
	// Name is a stable label for logs and metrics.
	Name() string
	isRoute()
}

// RunAction selects between starting and stopping a pipeline run.
type RunAction string

const (
	RunActionRun  RunAction = keywordRun
	RunActionStop RunAction = keywordStop
)

// ExecutorAction is a POST sub-operation under "executor".
type ExecutorAction string

const (
	ExecutorInit              ExecutorAction = "init"
	ExecutorSuiteRun          ExecutorAction = "suite_run"
	ExecutorTestConnection    ExecutorAction = "test_conn"
	ExecutorCredentialsUpsert ExecutorAction = "credentials_upsert"
)

type (
	StatusRoute  struct{}
	SuspendRoute struct{}

	JobsListRoute struct {
		IncludeParameters bool
	}

	JobDetailRoute struct {
		JobID string
	}

	RunRoute struct {
		JobID  string
		Action RunAction
	}

	// SnapshotRoute selects a build by number, or the latest when Build is "latest".
	SnapshotRoute struct {
		JobID string
		Build string
	}

	ExecutorRoute struct {
		Action ExecutorAction
	}

	ExecutorDeleteRoute struct {
		ExecutorID string
	}

	NotFoundRoute struct{}
)

func (StatusRoute) Name() string    { return "status" }
func (SuspendRoute) Name() string   { return "suspend_status" }
func (JobsListRoute) Name() string  { return "jobs_list" }
func (JobDetailRoute) Name() string { return "job_detail" }
func (r RunRoute) Name() string     { return "pipeline_" + string(r.Action) }
func (r SnapshotRoute) Name() string {
	if r.Latest() {
		return "snapshot_latest"
	}
	return "snapshot_by_number"
}
func (r ExecutorRoute) Name() string     { return "executor_" + string(r.Action) }
func (ExecutorDeleteRoute) Name() string { return "executor_delete" }
func (NotFoundRoute) Name() string       { return "not_found" }

// Latest reports whether the latest build was requested.
func (r SnapshotRoute) Latest() bool { return r.Build == keywordLatest }

func (StatusRoute) isRoute()         {}
func (SuspendRoute) isRoute()        {}
func (JobsListRoute) isRoute()       {}
func (JobDetailRoute) isRoute()      {}
func (RunRoute) isRoute()            {}
func (SnapshotRoute) isRoute()       {}
func (ExecutorRoute) isRoute()       {}
func (ExecutorDeleteRoute) isRoute() {}
func (NotFoundRoute) isRoute()       {}

// ParseRoute resolves method and url to a Route. The url must already satisfy
// Task.Validate.
func ParseRoute(method Method, url string) Route {
	p := tokenize(url)
	resource := p.values[0]

	switch {
	case p.shape(0) && resource == keywordStatus:
		return StatusRoute{}
	case p.shape(0) && resource == keywordSuspendStatus:
		return SuspendRoute{}
	case strings.HasPrefix(resource, keywordJobs):
		return parseJobsRoute(resource, p)
	case strings.EqualFold(resource, keywordExecutor):
		return parseExecutorRoute(method, p)
	}
	return NotFoundRoute{}
}

func parseJobsRoute(resource string, p pathParams) Route {
	switch {
	case p.shape(0):
		return JobsListRoute{IncludeParameters: !strings.Contains(resource, queryNoParameters)}
	case p.shape(0, 1):
		return JobDetailRoute{JobID: p.values[1]}
	case p.shape(0, 1, 2) && p.values[2] == keywordRun:
		return RunRoute{JobID: p.values[1], Action: RunActionRun}
	case p.shape(0, 1, 2) && p.values[2] == keywordStop:
		return RunRoute{JobID: p.values[1], Action: RunActionStop}
	case p.shape(0, 1, 2, 3) && p.values[2] == keywordBuilds:
		return SnapshotRoute{JobID: p.values[1], Build: p.values[3]}
	}
	return NotFoundRoute{}
}

func parseExecutorRoute(method Method, p pathParams) Route {
	if !p.shape(0, 1) {
		return NotFoundRoute{}
	}
	switch {
	case method.Is(MethodPost):
		action := ExecutorAction(strings.ToLower(p.values[1]))
		switch action {
		case ExecutorInit, ExecutorSuiteRun, ExecutorTestConnection, ExecutorCredentialsUpsert:
			return ExecutorRoute{Action: action}
		}
	case method.Is(MethodDelete):
		return ExecutorDeleteRoute{ExecutorID: p.values[1]}
	}
	return NotFoundRoute{}
}
