package otel

const (
	Prefix                     = "process-"
	AttributeProcessInstanceId = Prefix + "instance-id"
	AttributeProcessId         = Prefix + "id"
	AttributeElementId         = Prefix + "element-id"
	AttributeElementType       = Prefix + "element-type"
	AttributeEventModelId      = Prefix + "event-model-id"
	AttributeEventId           = Prefix + "event-id"
	AttributeService           = Prefix + "service"
)
