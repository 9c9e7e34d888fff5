package storagetest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenstep/pkg/process/model"
	"github.com/pbinitiative/zenstep/pkg/process/runtime"
	"github.com/pbinitiative/zenstep/pkg/ptr"
	"github.com/pbinitiative/zenstep/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

// StorageTester holds the data shared by the conformance tests of a storage implementation.
type StorageTester struct {
	definition *model.Definition
	prefix     string
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessDefinitionStorageWriter,
		st.TestProcessDefinitionStorageReader,
		st.TestProcessInstanceStorageWriter,
		st.TestProcessInstanceStorageReader,
		st.TestProcessInstanceFilter,
		st.TestTerminatedInstancePurge,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func getProcessDefinition(id string) *model.Definition {
	def, err := model.NewBuilder(id).
		Name("Storage test " + id).
		AddElement(model.Element{Id: "start", Type: model.ElementTypeStartEvent}).
		AddElement(model.Element{Id: "task", Type: model.ElementTypeUserTask}).
		AddElement(model.Element{Id: "end", Type: model.ElementTypeEndEvent}).
		AddFlow("start", "task").
		AddFlow("task", "end").
		Build()
	if err != nil {
		panic(fmt.Sprintf("invalid storage test definition: %s", err))
	}
	return def
}

// PrepareTestData stores the definition used by the instance tests.
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	st.prefix = fmt.Sprintf("st-%d", time.Now().UnixNano())
	st.definition = getProcessDefinition(st.prefix + "-shared")
	require.NoError(t, s.SaveProcessDefinition(t.Context(), st.definition))
}

func (st *StorageTester) newInstance(id string, options ...runtime.InstanceOption) *runtime.ProcessInstance {
	return runtime.NewProcessInstance(st.prefix+"-"+id, st.definition, options...)
}

func (st *StorageTester) TestProcessDefinitionStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		def := getProcessDefinition(st.prefix + "-writer")

		err := s.SaveProcessDefinition(ctx, def)
		assert.NoError(t, err)

		err = s.SaveProcessDefinition(ctx, getProcessDefinition(def.Id))
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		err = s.DeleteProcessDefinition(ctx, def.Id)
		assert.NoError(t, err)

		err = s.DeleteProcessDefinition(ctx, def.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()

		def, err := s.FindProcessDefinitionById(ctx, st.definition.Id)
		assert.NoError(t, err)
		assert.Same(t, st.definition, def)

		_, err = s.FindProcessDefinitionById(ctx, st.prefix+"-missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		all, err := s.FindProcessDefinitions(ctx)
		assert.NoError(t, err)
		assert.Contains(t, all, st.definition)
	}
}

func (st *StorageTester) TestProcessInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		pi := st.newInstance("writer")

		assert.NoError(t, s.SaveProcessInstance(ctx, pi))
		assert.NoError(t, s.SaveProcessInstance(ctx, pi), "saving twice replaces the instance")

		pi.Terminate()
		assert.NoError(t, s.SaveProcessInstance(ctx, pi))
		found, err := s.FindProcessInstanceById(ctx, pi.Id)
		assert.NoError(t, err)
		assert.False(t, found.IsRunning())

		assert.NoError(t, s.DeleteProcessInstance(ctx, pi.Id))
		assert.ErrorIs(t, s.DeleteProcessInstance(ctx, pi.Id), storage.ErrNotFound)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		pi := st.newInstance("reader")
		require.NoError(t, s.SaveProcessInstance(ctx, pi))

		found, err := s.FindProcessInstanceById(ctx, pi.Id)
		assert.NoError(t, err)
		assert.Same(t, pi, found)

		_, err = s.FindProcessInstanceById(ctx, st.prefix+"-missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		none, err := s.FindProcessInstances(ctx, storage.ProcessInstanceFilter{UserId: st.prefix + "-nobody"})
		assert.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	}
}

func (st *StorageTester) TestProcessInstanceFilter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		user := st.prefix + "-filter-user"
		running := st.newInstance("filter-running", runtime.InstanceWithUser(user), runtime.InstanceWithSession("s-1"))
		stopped := st.newInstance("filter-stopped", runtime.InstanceWithUser(user))
		stopped.Terminate()
		require.NoError(t, s.SaveProcessInstance(ctx, running))
		require.NoError(t, s.SaveProcessInstance(ctx, stopped))

		all, err := s.FindProcessInstances(ctx, storage.ProcessInstanceFilter{UserId: user})
		assert.NoError(t, err)
		assert.Len(t, all, 2)

		onlyRunning, err := s.FindProcessInstances(ctx, storage.ProcessInstanceFilter{UserId: user, Running: ptr.To(true)})
		assert.NoError(t, err)
		require.Len(t, onlyRunning, 1)
		assert.Equal(t, running.Id, onlyRunning[0].Id)

		onlyStopped, err := s.FindProcessInstances(ctx, storage.ProcessInstanceFilter{UserId: user, Running: ptr.To(false)})
		assert.NoError(t, err)
		require.Len(t, onlyStopped, 1)
		assert.Equal(t, stopped.Id, onlyStopped[0].Id)

		bySession, err := s.FindProcessInstances(ctx, storage.ProcessInstanceFilter{ProcessId: st.definition.Id, SessionId: "s-1", UserId: user})
		assert.NoError(t, err)
		assert.Len(t, bySession, 1)
	}
}

func (st *StorageTester) TestTerminatedInstancePurge(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.Background()
		old := st.newInstance("purge-old", runtime.InstanceWithClock(func() time.Time {
			return time.Now().Add(-48 * time.Hour)
		}))
		old.Terminate()
		fresh := st.newInstance("purge-fresh")
		fresh.Terminate()
		alive := st.newInstance("purge-alive")
		require.NoError(t, s.SaveProcessInstance(ctx, old))
		require.NoError(t, s.SaveProcessInstance(ctx, fresh))
		require.NoError(t, s.SaveProcessInstance(ctx, alive))

		removed, err := s.DeleteProcessInstancesTerminatedBefore(ctx, time.Now().Add(-24*time.Hour))

		assert.NoError(t, err)
		assert.GreaterOrEqual(t, removed, 1)
		_, err = s.FindProcessInstanceById(ctx, old.Id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindProcessInstanceById(ctx, fresh.Id)
		assert.NoError(t, err)
		_, err = s.FindProcessInstanceById(ctx, alive.Id)
		assert.NoError(t, err)
	}
}
