package tasking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/cibridge/internal/log"
	"github.com/mattjoyce/cibridge/internal/protocol"
)

// APIVersion is the task API version reported by the status route.
const APIVersion = 1

const jobsListMissingMessage = "'getJobsList' API is not implemented OR returns NULL, which contradicts API requirement (MAY be empty list)"

// Observer receives one call per routed task. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveRoute(route string, status int, elapsed time.Duration)
}

// Router maps tasks to PluginServices calls. It holds no mutable state and is
// safe for concurrent use.
type Router struct {
	services   PluginServices
	instanceID string
	sdkVersion string
	observer   Observer
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithSDKVersion sets the version reported in the status route.
func WithSDKVersion(v string) Option {
	return func(r *Router) { r.sdkVersion = v }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router. instanceID is echoed as Result.ServiceID.
func NewRouter(services PluginServices, instanceID string, opts ...Option) (*Router, error) {
	if services == nil {
		return nil, errors.New("plugin services are required")
	}
	r := &Router{
		services:   services,
		instanceID: instanceID,
		sdkVersion: "dev",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithComponent("tasking")
	}
	return r, nil
}

// Execute validates task and routes it. The only error returned is
// ErrInvalidTask; capability failures are reported in the Result.
func (r *Router) Execute(ctx context.Context, task *Task) (Result, error) {
	if err := task.Validate(); err != nil {
		return Result{}, err
	}
	return r.Route(ctx, *task), nil
}

// Route dispatches a validated task and always returns a Result.
func (r *Router) Route(ctx context.Context, task Task) Result {
	logger := r.logger.With("task_id", task.ID)
	logger.Info("processing task", "method", task.Method, "url", task.URL)

	start := time.Now()
	result := Result{
		ID:        task.ID,
		Status:    http.StatusOK,
		Headers:   make(map[string]string),
		ServiceID: r.instanceID,
	}

	ctx = WithTaskID(ctx, task.ID)
	route := ParseRoute(task.Method, task.URL)
	if err := r.safeDispatch(ctx, route, task, &result, logger); err != nil {
		classify(err, &result, logger)
	}

	if r.observer != nil {
		r.observer.ObserveRoute(route.Name(), result.Status, time.Since(start))
	}
	logger.Info("task result available", "route", route.Name(), "status", result.Status)
	return result
}

func (r *Router) safeDispatch(ctx context.Context, route Route, task Task, result *Result, logger *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in route %s: %v", route.Name(), rec)
		}
	}()
	return r.dispatch(ctx, route, task, result, logger)
}

func (r *Router) dispatch(ctx context.Context, route Route, task Task, result *Result, logger *slog.Logger) error {
	switch rt := route.(type) {
	case StatusRoute:
		return r.status(ctx, result)
	case SuspendRoute:
		return r.suspendCIEvents(ctx, task.Body, result)
	case JobsListRoute:
		return r.jobsList(ctx, rt.IncludeParameters, result)
	case JobDetailRoute:
		return r.pipeline(ctx, rt.JobID, result)
	case RunRoute:
		return r.pipelineRun(ctx, rt, task.Body, result, logger)
	case SnapshotRoute:
		return r.snapshot(ctx, rt, result)
	case ExecutorRoute:
		return r.executor(ctx, rt.Action, task.Body, result)
	case ExecutorDeleteRoute:
		return r.services.DeleteExecutor(ctx, rt.ExecutorID)
	default:
		result.Status = http.StatusNotFound
		return nil
	}
}

func (r *Router) status(ctx context.Context, result *Result) error {
	server, err := r.services.GetServerInfo(ctx)
	if err != nil {
		return err
	}
	plugin, err := r.services.GetPluginInfo(ctx)
	if err != nil {
		return err
	}

	var serverInfo protocol.CIServerInfo
	if server != nil {
		serverInfo = *server
	}
	serverInfo.InstanceID = r.instanceID

	body, err := protocol.EncodeDTO(&protocol.CIProviderSummaryInfo{
		Server: &serverInfo,
		Plugin: plugin,
		SDK: &protocol.CIPluginSDKInfo{
			APIVersion: APIVersion,
			SDKVersion: r.sdkVersion,
		},
	})
	if err != nil {
		return err
	}
	result.setJSONBody(body)
	return nil
}

func (r *Router) suspendCIEvents(ctx context.Context, body string, result *Result) error {
	suspend := strings.EqualFold(strings.TrimSpace(body), "true")
	if err := r.services.SuspendCIEvents(ctx, suspend); err != nil {
		return err
	}
	result.Status = http.StatusCreated
	return nil
}

func (r *Router) jobsList(ctx context.Context, includeParameters bool, result *Result) error {
	jobs, err := r.services.GetJobsList(ctx, includeParameters)
	if err != nil {
		return err
	}

	var body string
	if jobs != nil {
		body, err = protocol.EncodeDTO(jobs)
	} else {
		body, err = protocol.EncodeDTO(&protocol.ErrorBody{ErrorMessage: jobsListMissingMessage})
		result.Status = http.StatusNotImplemented
	}
	if err != nil {
		return err
	}
	result.setJSONBody(body)
	return nil
}

func (r *Router) pipeline(ctx context.Context, jobID string, result *Result) error {
	node, err := r.services.GetPipeline(ctx, jobID)
	if err != nil {
		return err
	}
	if node == nil {
		result.Status = http.StatusNotFound
		return nil
	}
	body, err := protocol.EncodeDTO(node)
	if err != nil {
		return err
	}
	result.setJSONBody(body)
	return nil
}

// pipelineRun invokes run or stop. Content-Type is always set on this route.
// Classified failures propagate to the top-level classification; other
// failures are reported here as a JSON error body.
func (r *Router) pipelineRun(ctx context.Context, rt RunRoute, body string, result *Result, logger *slog.Logger) error {
	defer func() { result.Headers[HeaderContentType] = ContentTypeJSON }()

	var (
		err           error
		successStatus int
		failure       string
	)
	switch rt.Action {
	case RunActionStop:
		err = r.services.StopPipelineRun(ctx, rt.JobID, body)
		successStatus = http.StatusOK
		failure = fmt.Sprintf("Failed to stop '%s'", rt.JobID)
	default:
		err = r.services.RunPipeline(ctx, rt.JobID, body)
		successStatus = http.StatusCreated
		failure = fmt.Sprintf("Failed to run '%s'", rt.JobID)
	}

	var classified *ClassifiedFailure
	switch {
	case err == nil:
		result.Status = successStatus
	case errors.As(err, &classified):
		return err
	case errors.Is(err, ErrNotImplemented):
		logger.Warn("pipeline action not implemented", "job_id", rt.JobID, "action", rt.Action)
		result.Status = http.StatusNotImplemented
	default:
		logger.Error("pipeline action failed", "job_id", rt.JobID, "action", rt.Action, "error", err)
		errBody, encErr := protocol.EncodeDTO(&protocol.ErrorBody{
			ErrorMessage: failure + ". Server error message: " + err.Error(),
		})
		if encErr != nil {
			return encErr
		}
		result.Body = errBody
		result.Status = http.StatusInternalServerError
	}
	return nil
}

func (r *Router) snapshot(ctx context.Context, rt SnapshotRoute, result *Result) error {
	var (
		node *protocol.SnapshotNode
		err  error
	)
	if rt.Latest() {
		node, err = r.services.GetSnapshotLatest(ctx, rt.JobID, false)
	} else {
		node, err = r.services.GetSnapshotByNumber(ctx, rt.JobID, rt.Build, false)
	}
	if err != nil {
		return err
	}

	result.Headers[HeaderContentType] = ContentTypeJSON
	if node == nil {
		result.Status = http.StatusNotFound
		return nil
	}
	body, err := protocol.EncodeDTO(node)
	if err != nil {
		return err
	}
	result.Body = body
	return nil
}

func (r *Router) executor(ctx context.Context, action ExecutorAction, body string, result *Result) error {
	switch action {
	case ExecutorInit:
		info, err := protocol.DecodeDTO[protocol.DiscoveryInfo](body)
		if err != nil {
			return err
		}
		info.ConfigurationID = r.instanceID
		if err := r.services.RunTestDiscovery(ctx, info); err != nil {
			return err
		}
		node, err := r.services.CreateExecutor(ctx, info)
		if err != nil {
			return err
		}
		if node != nil {
			encoded, err := protocol.EncodeDTO(node)
			if err != nil {
				return err
			}
			result.setJSONBody(encoded)
		}
		result.Status = http.StatusOK

	case ExecutorSuiteRun:
		info, err := protocol.DecodeDTO[protocol.TestSuiteExecutionInfo](body)
		if err != nil {
			return err
		}
		if err := r.services.RunTestSuiteExecution(ctx, info); err != nil {
			return err
		}
		result.Status = http.StatusOK

	case ExecutorTestConnection:
		info, err := protocol.DecodeDTO[protocol.TestConnectivityInfo](body)
		if err != nil {
			return err
		}
		resp, err := r.services.CheckRepositoryConnectivity(ctx, info)
		if err != nil {
			return err
		}
		copyCapabilityResponse(resp, result)

	case ExecutorCredentialsUpsert:
		info, err := protocol.DecodeDTO[protocol.CredentialsInfo](body)
		if err != nil {
			return err
		}
		resp, err := r.services.UpsertCredentials(ctx, info)
		if err != nil {
			return err
		}
		copyCapabilityResponse(resp, result)

	default:
		result.Status = http.StatusNotFound
	}
	return nil
}

func copyCapabilityResponse(resp *protocol.CapabilityResponse, result *Result) {
	if resp == nil {
		result.Status = http.StatusNotFound
		return
	}
	result.Status = resp.Status
	result.Body = resp.Body
}

// classify maps a failure escaping a route onto the result.
func classify(err error, result *Result, logger *slog.Logger) {
	var failure *ClassifiedFailure
	switch {
	case errors.As(err, &failure):
		if failure.Category == CategoryConfiguration {
			logger.Error("task execution failed", "category", failure.Category, "code", failure.Code)
		} else {
			logger.Warn("task execution failed", "category", failure.Category, "code", failure.Code)
		}
		result.Status = failure.Code
		result.Body = strconv.Itoa(failure.Code)
	case errors.Is(err, ErrNotImplemented):
		logger.Warn("task execution failed", "error", err)
		result.Status = http.StatusNotImplemented
		result.Body = ""
	default:
		logger.Error("task execution failed", "error", err)
		result.Status = http.StatusInternalServerError
		result.Body = ""
	}
}
