package runtime

// VariableHolder is the mutable key/value context of a process instance.
type VariableHolder struct {
	localVariables map[string]any
}

// NewVariableHolder creates a holder seeded with a copy of variables.
func NewVariableHolder(variables map[string]any) VariableHolder {
	localVariables := make(map[string]any, len(variables))
	for k, v := range variables {
		localVariables[k] = v
	}
	return VariableHolder{localVariables: localVariables}
}

// LocalVariables returns a shallow copy of the variables.
func (vh *VariableHolder) LocalVariables() map[string]any {
	res := make(map[string]any, len(vh.localVariables))
	for k, v := range vh.localVariables {
		res[k] = v
	}
	return res
}

func (vh *VariableHolder) GetLocalVariable(key string) (any, bool) {
	v, ok := vh.localVariables[key]
	return v, ok
}

func (vh *VariableHolder) SetLocalVariable(key string, val any) {
	vh.localVariables[key] = val
}

func (vh *VariableHolder) DeleteLocalVariable(key string) {
	delete(vh.localVariables, key)
}

func (vh *VariableHolder) SetLocalVariables(variables map[string]any) {
	for k, v := range variables {
		vh.localVariables[k] = v
	}
}
