// Package dispatch delivers the service calls of process annotations to HTTP services.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenstep/pkg/process"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrServiceCallFailed = errors.New("dispatch: service call failed")

type Config struct {
	Host    string
	Port    int
	Secure  bool
	BaseUrl string
	Timeout time.Duration
}

// HttpDispatcher POSTs the resolved input of a service call as JSON to
// {scheme}://{host}:{port}{baseUrl}/{service}/{method} and writes the response
// back into the calling instance. Failed calls are reported with the status of the
// response, 502 when the service did not answer.
type HttpDispatcher struct {
	base     url.URL
	basePath string
	client   *http.Client
	logger   hclog.Logger
	inFlight sync.WaitGroup
}

var _ process.Dispatcher = &HttpDispatcher{}

func NewHttpDispatcher(conf Config, logger hclog.Logger) *HttpDispatcher {
	if logger == nil {
		logger = hclog.Default()
	}
	scheme := "http"
	if conf.Secure {
		scheme = "https"
	}
	return &HttpDispatcher{
		base: url.URL{
			Scheme: scheme,
			Host:   fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
		basePath: conf.BaseUrl,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   conf.Timeout,
		},
		logger: logger.Named("dispatcher"),
	}
}

// Endpoint returns the URL the call is posted to.
func (d *HttpDispatcher) Endpoint(call process.ServiceCall) string {
	endpoint := d.base
	endpoint.Path = fmt.Sprintf("%s/%s/%s", d.basePath, call.Service, call.Method)
	return endpoint.String()
}

// Dispatch performs the call in the background. The call outlives the operation
// that caused it, only the values of ctx are kept.
func (d *HttpDispatcher) Dispatch(ctx context.Context, call process.ServiceCall, sink process.ResultSink) {
	ctx = context.WithoutCancel(ctx)
	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		variables, status, err := d.perform(ctx, call)
		if err != nil {
			d.logger.Warn("Service call failed", "instance", call.InstanceId, "service", call.Service, "method", call.Method, "err", err)
			if status == 0 {
				status = http.StatusBadGateway
			}
			if err := sink.ReportFailure(ctx, call, status, err.Error()); err != nil {
				d.logger.Warn("Failed to report service call failure", "instance", call.InstanceId, "service", call.Service, "method", call.Method, "err", err)
			}
			return
		}
		if err := sink.WriteBack(ctx, call.InstanceId, variables); err != nil {
			d.logger.Warn("Failed to write back service call result", "instance", call.InstanceId, "service", call.Service, "method", call.Method, "err", err)
		}
	}()
}

// Wait blocks until every dispatched call finished.
func (d *HttpDispatcher) Wait() {
	d.inFlight.Wait()
}

func (d *HttpDispatcher) perform(ctx context.Context, call process.ServiceCall) (map[string]any, int, error) {
	input := call.Input
	if input == nil {
		input = map[string]any{}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode input of %s/%s: %w", call.Service, call.Method, err)
	}
	endpoint := d.Endpoint(call)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("error during request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Debug("Performing service call", "instance", call.InstanceId, "endpoint", endpoint)
	res, err := d.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %w", ErrServiceCallFailed, endpoint, err)
	}
	defer res.Body.Close()
	response, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("could not read response body of %s: %w", endpoint, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, fmt.Errorf("%w: %s answered %d", ErrServiceCallFailed, endpoint, res.StatusCode)
	}
	return d.outputVariables(call, response), res.StatusCode, nil
}

// outputVariables stores the raw response under the output reference and copies the
// mapped fields of a JSON object response.
func (d *HttpDispatcher) outputVariables(call process.ServiceCall, response []byte) map[string]any {
	variables := map[string]any{}
	if call.OutputReference != "" {
		variables[call.OutputReference] = string(response)
	}
	if len(call.OutputMapping) == 0 {
		return variables
	}
	var decoded map[string]any
	if err := json.Unmarshal(response, &decoded); err != nil {
		d.logger.Warn("Failed to decode service call response", "instance", call.InstanceId, "service", call.Service, "method", call.Method, "err", err)
		return variables
	}
	for field, variable := range call.OutputMapping {
		if value, ok := decoded[field]; ok {
			variables[variable] = value
		}
	}
	return variables
}
