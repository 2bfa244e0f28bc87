package protocol

// CIServerInfo describes the CI server hosting the bridge.
type CIServerInfo struct {
	Type             string `json:"type"`
	Version          string `json:"version"`
	URL              string `json:"url"`
	InstanceID       string `json:"instanceId"`
	InstanceIDFrom   int64  `json:"instanceIdFrom,omitempty"`
	SendingTime      int64  `json:"sendingTime,omitempty"`
	ImpersonatedUser string `json:"impersonatedUser,omitempty"`
	Suspended        bool   `json:"suspended"`
}

// CIPluginInfo describes the CI plugin version.
type CIPluginInfo struct {
	Version string `json:"version"`
}

// CIPluginSDKInfo describes the bridge API/SDK versions.
type CIPluginSDKInfo struct {
	APIVersion int    `json:"apiVersion"`
	SDKVersion string `json:"sdkVersion"`
}

// CIProviderSummaryInfo is the body of the status route.
type CIProviderSummaryInfo struct {
	Server *CIServerInfo    `json:"server"`
	Plugin *CIPluginInfo    `json:"plugin"`
	SDK    *CIPluginSDKInfo `json:"sdk"`
}

// CIParameter is a job or build parameter.
type CIParameter struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Choices      []any  `json:"choices,omitempty"`
	DefaultValue any    `json:"defaultValue,omitempty"`
	Value        any    `json:"value,omitempty"`
}

// CIJobsList is the body of the jobs route.
type CIJobsList struct {
	Jobs []PipelineNode `json:"jobs"`
}

// PipelineNode is a job and its downstream phases.
type PipelineNode struct {
	JobCIID         string          `json:"jobCiId"`
	Name            string          `json:"name"`
	Parameters      []CIParameter   `json:"parameters,omitempty"`
	PhasesInternal  []PipelinePhase `json:"phasesInternal,omitempty"`
	PhasesPostBuild []PipelinePhase `json:"phasesPostBuild,omitempty"`
}

// PipelinePhase groups downstream jobs.
type PipelinePhase struct {
	Name     string         `json:"name"`
	Blocking bool           `json:"blocking"`
	Jobs     []PipelineNode `json:"jobs"`
}

// CIEventCause explains why a build started.
type CIEventCause struct {
	Type      string         `json:"type"`
	User      string         `json:"user,omitempty"`
	Project   string         `json:"project,omitempty"`
	BuildCIID string         `json:"buildCiId,omitempty"`
	Causes    []CIEventCause `json:"causes,omitempty"`
}

// SnapshotNode is the state of a single build and its downstream builds.
type SnapshotNode struct {
	JobCIID           string          `json:"jobCiId"`
	Name              string          `json:"name"`
	BuildCIID         string          `json:"buildCiId"`
	Number            string          `json:"number"`
	Causes            []CIEventCause  `json:"causes,omitempty"`
	Duration          int64           `json:"duration,omitempty"`
	EstimatedDuration int64           `json:"estimatedDuration,omitempty"`
	StartTime         int64           `json:"startTime,omitempty"`
	Result            string          `json:"result,omitempty"`
	Status            string          `json:"status,omitempty"`
	Parameters        []CIParameter   `json:"parameters,omitempty"`
	PhasesInternal    []SnapshotPhase `json:"phasesInternal,omitempty"`
	PhasesPostBuild   []SnapshotPhase `json:"phasesPostBuild,omitempty"`
}

// SnapshotPhase groups downstream builds.
type SnapshotPhase struct {
	Name     string         `json:"name"`
	Blocking bool           `json:"blocking"`
	Builds   []SnapshotNode `json:"builds"`
}

// SCMRepository identifies a source repository.
type SCMRepository struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// DiscoveryInfo describes a test-discovery executor.
type DiscoveryInfo struct {
	ExecutorID                 string            `json:"executorId"`
	ExecutorLogicalName        string            `json:"executorLogicalName,omitempty"`
	WorkspaceID                string            `json:"workspaceId"`
	ForceFullDiscovery         bool              `json:"forceFullDiscovery"`
	SCMRepository              *SCMRepository    `json:"scmRepository,omitempty"`
	SCMRepositoryCredentialsID string            `json:"scmRepositoryCredentialsId,omitempty"`
	TestingToolType            string            `json:"testingToolType,omitempty"`
	ConfigurationID            string            `json:"configurationId,omitempty"`
	Properties                 map[string]string `json:"properties,omitempty"`
}

// TestExecutionInfo is a single test in a suite run.
type TestExecutionInfo struct {
	TestName    string `json:"testName"`
	PackageName string `json:"packageName,omitempty"`
	DataTable   string `json:"dataTable,omitempty"`
}

// TestSuiteExecutionInfo describes a suite run request.
type TestSuiteExecutionInfo struct {
	SuiteID                    string              `json:"suiteId"`
	SuiteRunID                 string              `json:"suiteRunId"`
	ExecutorID                 string              `json:"executorId"`
	WorkspaceID                string              `json:"workspaceId"`
	Tests                      []TestExecutionInfo `json:"tests"`
	SCMRepository              *SCMRepository      `json:"scmRepository,omitempty"`
	SCMRepositoryCredentialsID string              `json:"scmRepositoryCredentialsId,omitempty"`
	TestingToolType            string              `json:"testingToolType,omitempty"`
}

// TestConnectivityInfo describes a repository connectivity check.
type TestConnectivityInfo struct {
	SCMRepository *SCMRepository `json:"scmRepository"`
	Username      string         `json:"username,omitempty"`
	Password      string         `json:"password,omitempty"`
	CredentialsID string         `json:"credentialsId,omitempty"`
}

// CredentialsInfo describes a credentials upsert.
type CredentialsInfo struct {
	CredentialsID string `json:"credentialsId"`
	Username      string `json:"username"`
	Password      string `json:"password"`
}

// CapabilityResponse is returned by capabilities that answer with their own status and body.
type CapabilityResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ErrorBody is the JSON body attached to task results that report a failure.
type ErrorBody struct {
	ErrorMessage string `json:"errorMessage"`
}
