package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

type EngineMetrics struct {
	InstancesStarted     metric.Int64Counter
	InstancesCompleted   metric.Int64Counter
	InstancesCancelled   metric.Int64Counter
	InstanceErrors       metric.Int64Counter
	InstancesRunning     metric.Int64UpDownCounter
	StepsPerformed       metric.Int64Counter
	EventsReceived       metric.Int64Counter
	EventsMatched        metric.Int64Counter
	ServiceCallsDispatch metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	instancesStarted, err := meter.Int64Counter("process_instances_started", metric.WithDescription("Number of process instances started"))
	errJoin = errors.Join(errJoin, err)

	instancesCompleted, err := meter.Int64Counter("process_instances_completed", metric.WithDescription("Number of process instances that reached an end element"))
	errJoin = errors.Join(errJoin, err)

	instancesCancelled, err := meter.Int64Counter("process_instances_cancelled", metric.WithDescription("Number of process instances terminated before completion"))
	errJoin = errors.Join(errJoin, err)

	instanceErrors, err := meter.Int64Counter("process_instance_errors", metric.WithDescription("Number of errors signalled by process instances"))
	errJoin = errors.Join(errJoin, err)

	instancesRunning, err := meter.Int64UpDownCounter("process_instances_running", metric.WithDescription("Number of process instances currently running"))
	errJoin = errors.Join(errJoin, err)

	stepsPerformed, err := meter.Int64Counter("steps_performed", metric.WithDescription("Number of element transitions"))
	errJoin = errors.Join(errJoin, err)

	eventsReceived, err := meter.Int64Counter("events_received", metric.WithDescription("Number of inbound events"))
	errJoin = errors.Join(errJoin, err)

	eventsMatched, err := meter.Int64Counter("events_matched", metric.WithDescription("Number of triggers activated by inbound events"))
	errJoin = errors.Join(errJoin, err)

	serviceCalls, err := meter.Int64Counter("service_calls_dispatched", metric.WithDescription("Number of service calls handed to the dispatcher"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		InstancesStarted:     instancesStarted,
		InstancesCompleted:   instancesCompleted,
		InstancesCancelled:   instancesCancelled,
		InstanceErrors:       instanceErrors,
		InstancesRunning:     instancesRunning,
		StepsPerformed:       stepsPerformed,
		EventsReceived:       eventsReceived,
		EventsMatched:        eventsMatched,
		ServiceCallsDispatch: serviceCalls,
	}
	return &metrics, errJoin
}
