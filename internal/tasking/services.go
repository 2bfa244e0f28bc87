package tasking

import (
	"context"

	"github.com/mattjoyce/cibridge/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/mattjoyce/cibridge/internal/tasking PluginServices

// PluginServices is the CI capability set the router delegates to.
//
// Methods returning a pointer may return nil to signal absent data. Any method
// may fail with a ClassifiedFailure, ErrNotImplemented or any other error.
// Implementations must be safe for concurrent use.
type PluginServices interface {
	GetServerInfo(ctx context.Context) (*protocol.CIServerInfo, error)
	GetPluginInfo(ctx context.Context) (*protocol.CIPluginInfo, error)
	GetJobsList(ctx context.Context, includeParameters bool) (*protocol.CIJobsList, error)
	GetPipeline(ctx context.Context, jobID string) (*protocol.PipelineNode, error)
	RunPipeline(ctx context.Context, jobID, body string) error
	StopPipelineRun(ctx context.Context, jobID, body string) error
	GetSnapshotLatest(ctx context.Context, jobID string, subTree bool) (*protocol.SnapshotNode, error)
	GetSnapshotByNumber(ctx context.Context, jobID, buildID string, subTree bool) (*protocol.SnapshotNode, error)
	RunTestDiscovery(ctx context.Context, info *protocol.DiscoveryInfo) error
	CreateExecutor(ctx context.Context, info *protocol.DiscoveryInfo) (*protocol.PipelineNode, error)
	RunTestSuiteExecution(ctx context.Context, info *protocol.TestSuiteExecutionInfo) error
	CheckRepositoryConnectivity(ctx context.Context, info *protocol.TestConnectivityInfo) (*protocol.CapabilityResponse, error)
	UpsertCredentials(ctx context.Context, info *protocol.CredentialsInfo) (*protocol.CapabilityResponse, error)
	DeleteExecutor(ctx context.Context, id string) error
	SuspendCIEvents(ctx context.Context, suspend bool) error
}
