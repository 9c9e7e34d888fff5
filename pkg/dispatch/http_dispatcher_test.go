package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pbinitiative/zenstep/pkg/process"
	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu       sync.Mutex
	writes   map[string]map[string]any
	failures map[string]string
}

func (s *sinkRecorder) ReportFailure(ctx context.Context, call process.ServiceCall, code int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = map[string]string{}
	}
	s.failures[call.InstanceId] = fmt.Sprintf("%d %s/%s", code, call.Service, call.Method)
	return nil
}

func (s *sinkRecorder) failure(instanceId string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.failures[instanceId]
	return v, ok
}

func (s *sinkRecorder) WriteBack(ctx context.Context, instanceId string, variables map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == nil {
		s.writes = map[string]map[string]any{}
	}
	s.writes[instanceId] = variables
	return nil
}

func (s *sinkRecorder) get(instanceId string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.writes[instanceId]
	return v, ok
}

func dispatcherFor(t *testing.T, server *httptest.Server) *HttpDispatcher {
	host, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	portNumber, err := strconv.Atoi(port)
	require.NoError(t, err)
	return NewHttpDispatcher(Config{
		Host:    host,
		Port:    portNumber,
		BaseUrl: "/services",
		Timeout: 5 * time.Second,
	}, nil)
}

func TestDispatchPostsInputAndWritesBack(t *testing.T) {
	// given
	type received struct {
		path  string
		input map[string]any
	}
	requests := make(chan received, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var input map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		requests <- received{path: r.URL.Path, input: input}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trackingId":"t-1","carrier":"dhl"}`))
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	sink := &sinkRecorder{}

	// when
	dispatcher.Dispatch(t.Context(), process.ServiceCall{
		InstanceId:      "i-1",
		Service:         "logistics",
		Method:          "ship",
		Input:           map[string]any{"from": "north"},
		OutputReference: "shipment",
		OutputMapping:   map[string]string{"trackingId": "tracking", "missing": "never"},
	}, sink)
	dispatcher.Wait()

	// then
	request := <-requests
	assert.Equal(t, "/services/logistics/ship", request.path)
	assert.Equal(t, map[string]any{"from": "north"}, request.input)
	written, ok := sink.get("i-1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"shipment": `{"trackingId":"t-1","carrier":"dhl"}`,
		"tracking": "t-1",
	}, written)
}

func TestDispatchKeepsRawBodyOfNonJsonResponse(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("accepted"))
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	sink := &sinkRecorder{}

	// when
	dispatcher.Dispatch(t.Context(), process.ServiceCall{
		InstanceId:      "i-2",
		Service:         "mail",
		Method:          "send",
		OutputReference: "mailResult",
		OutputMapping:   map[string]string{"id": "mailId"},
	}, sink)
	dispatcher.Wait()

	// then
	written, ok := sink.get("i-2")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"mailResult": "accepted"}, written)
}

func TestDispatchReportsFailedCalls(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	sink := &sinkRecorder{}

	// when
	dispatcher.Dispatch(t.Context(), process.ServiceCall{InstanceId: "i-3", Service: "s", Method: "m", OutputReference: "out"}, sink)
	dispatcher.Wait()

	// then
	_, ok := sink.get("i-3")
	assert.False(t, ok)
	failure, ok := sink.failure("i-3")
	require.True(t, ok)
	assert.Equal(t, "500 s/m", failure)
}

func TestDispatchReportsUnreachableService(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dispatcher := dispatcherFor(t, server)
	server.Close()
	sink := &sinkRecorder{}

	// when
	dispatcher.Dispatch(t.Context(), process.ServiceCall{InstanceId: "i-5", Service: "s", Method: "m"}, sink)
	dispatcher.Wait()

	// then
	failure, ok := sink.failure("i-5")
	require.True(t, ok)
	assert.Equal(t, "502 s/m", failure)
}

func TestDispatchOutlivesCancelledContext(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	sink := &sinkRecorder{}
	ctx, cancel := context.WithCancel(t.Context())

	// when
	dispatcher.Dispatch(ctx, process.ServiceCall{InstanceId: "i-4", Service: "s", Method: "m", OutputReference: "out"}, sink)
	cancel()
	dispatcher.Wait()

	// then
	written, ok := sink.get("i-4")
	require.True(t, ok)
	assert.Equal(t, "{}", written["out"])
}

func TestEndpoint(t *testing.T) {
	dispatcher := NewHttpDispatcher(Config{Host: "services.local", Port: 8443, Secure: true, BaseUrl: "/api"}, nil)

	endpoint := dispatcher.Endpoint(process.ServiceCall{Service: "bot", Method: "answer"})

	assert.Equal(t, "https://services.local:8443/api/bot/answer", endpoint)
}

func TestEngineReceivesServiceCallResult(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"score":42}`))
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	engine := process.NewEngine(process.EngineWithDispatcher(dispatcher))
	def, err := model.NewBuilder("quiz").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "answer",
			Type: model.ElementTypeUserTask,
			Annotations: model.Annotations{
				ServiceCalls: []model.ServiceCallAnnotation{{
					Service:       "grading",
					Method:        "score",
					Type:          model.ServiceCallStart,
					OutputMapping: map[string]string{"score": "lastScore"},
				}},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "answer").
		AddFlow("answer", "end").
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.RegisterProcess(t.Context(), def))

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "quiz", "", "")
	require.NoError(t, err)
	dispatcher.Wait()

	// then
	var score any
	err = engine.InspectInstance(t.Context(), instance.Id, func(pi *runtime.ProcessInstance) error {
		score = pi.Context()["lastScore"]
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, float64(42), score)
}

func TestEngineReceivesServiceCallFailure(t *testing.T) {
	// given
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	dispatcher := dispatcherFor(t, server)
	engine := process.NewEngine(process.EngineWithDispatcher(dispatcher))
	def, err := model.NewBuilder("quiz").
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{
			Id:   "answer",
			Type: model.ElementTypeUserTask,
			Annotations: model.Annotations{
				ServiceCalls: []model.ServiceCallAnnotation{{
					Service: "grading",
					Method:  "score",
					Type:    model.ServiceCallStart,
				}},
			},
		}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "answer").
		AddFlow("answer", "end").
		Build()
	require.NoError(t, err)
	require.NoError(t, engine.RegisterProcess(t.Context(), def))

	// when
	instance, err := engine.InstantiateProcess(t.Context(), "quiz", "", "")
	require.NoError(t, err)
	dispatcher.Wait()

	// then
	var info map[string]any
	var current string
	var running bool
	err = engine.InspectInstance(t.Context(), instance.Id, func(pi *runtime.ProcessInstance) error {
		info = process.ExecutionInfo(pi)
		current = pi.CurrentElement().Id
		running = pi.IsRunning()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, "answer", current)
	require.Contains(t, info, "error")
	failure := info["error"].(map[string]any)
	assert.Equal(t, "answer", failure["elementId"])
	assert.Equal(t, http.StatusServiceUnavailable, failure["code"])
}
