// Package mock_repository contains gomock-generated doubles for the
// interfaces declared in pkg/repository, in the shape `mockgen` produces
// for an interface package (mirroring the teacher's mock_position_store
// and mock_binlog_checker packages). Kept hand-written here rather than
// regenerated because this module's build never invokes go generate.
package mock_repository

import (
	reflect "reflect"

	gomock "github.com/golang/mock/gomock"

	flowfile "github.com/flowctl/core/pkg/flowfile"
	repository "github.com/flowctl/core/pkg/repository"
)

// MockProvenanceRepository is a mock of the ProvenanceRepository interface.
type MockProvenanceRepository struct {
	ctrl     *gomock.Controller
	recorder *MockProvenanceRepositoryMockRecorder
}

// MockProvenanceRepositoryMockRecorder is the mock recorder for MockProvenanceRepository.
type MockProvenanceRepositoryMockRecorder struct {
	mock *MockProvenanceRepository
}

// NewMockProvenanceRepository creates a new mock instance.
func NewMockProvenanceRepository(ctrl *gomock.Controller) *MockProvenanceRepository {
	mock := &MockProvenanceRepository{ctrl: ctrl}
	mock.recorder = &MockProvenanceRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockProvenanceRepository) EXPECT() *MockProvenanceRepositoryMockRecorder {
	return m.recorder
}

// Initialize mocks base method.
func (m *MockProvenanceRepository) Initialize() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Initialize")
	ret0, _ := ret[0].(error)
	return ret0
}

// Initialize indicates an expected call of Initialize.
func (mr *MockProvenanceRepositoryMockRecorder) Initialize() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Initialize", reflect.TypeOf((*MockProvenanceRepository)(nil).Initialize))
}

// RegisterEvent mocks base method.
func (m *MockProvenanceRepository) RegisterEvent(event repository.ProvenanceEvent) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RegisterEvent", event)
	ret0, _ := ret[0].(error)
	return ret0
}

// RegisterEvent indicates an expected call of RegisterEvent.
func (mr *MockProvenanceRepositoryMockRecorder) RegisterEvent(event interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RegisterEvent", reflect.TypeOf((*MockProvenanceRepository)(nil).RegisterEvent), event)
}

// GetEvent mocks base method.
func (m *MockProvenanceRepository) GetEvent(id int64) (repository.ProvenanceEvent, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetEvent", id)
	ret0, _ := ret[0].(repository.ProvenanceEvent)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetEvent indicates an expected call of GetEvent.
func (mr *MockProvenanceRepositoryMockRecorder) GetEvent(id interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetEvent", reflect.TypeOf((*MockProvenanceRepository)(nil).GetEvent), id)
}

// GetEvents mocks base method.
func (m *MockProvenanceRepository) GetEvents(firstID int64, maxResults int) ([]repository.ProvenanceEvent, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "GetEvents", firstID, maxResults)
	ret0, _ := ret[0].([]repository.ProvenanceEvent)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// GetEvents indicates an expected call of GetEvents.
func (mr *MockProvenanceRepositoryMockRecorder) GetEvents(firstID, maxResults interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "GetEvents", reflect.TypeOf((*MockProvenanceRepository)(nil).GetEvents), firstID, maxResults)
}

// Close mocks base method.
func (m *MockProvenanceRepository) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockProvenanceRepositoryMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockProvenanceRepository)(nil).Close))
}

// MockFlowFileRepository is a mock of the FlowFileRepository interface.
type MockFlowFileRepository struct {
	ctrl     *gomock.Controller
	recorder *MockFlowFileRepositoryMockRecorder
}

// MockFlowFileRepositoryMockRecorder is the mock recorder for MockFlowFileRepository.
type MockFlowFileRepositoryMockRecorder struct {
	mock *MockFlowFileRepository
}

// NewMockFlowFileRepository creates a new mock instance.
func NewMockFlowFileRepository(ctrl *gomock.Controller) *MockFlowFileRepository {
	mock := &MockFlowFileRepository{ctrl: ctrl}
	mock.recorder = &MockFlowFileRepositoryMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockFlowFileRepository) EXPECT() *MockFlowFileRepositoryMockRecorder {
	return m.recorder
}

// Initialize mocks base method.
func (m *MockFlowFileRepository) Initialize(controllerID string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Initialize", controllerID)
	ret0, _ := ret[0].(error)
	return ret0
}

// Initialize indicates an expected call of Initialize.
func (mr *MockFlowFileRepositoryMockRecorder) Initialize(controllerID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Initialize", reflect.TypeOf((*MockFlowFileRepository)(nil).Initialize), controllerID)
}

// Load mocks base method.
func (m *MockFlowFileRepository) Load(controllerID string, startingID int64) (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Load", controllerID, startingID)
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Load indicates an expected call of Load.
func (mr *MockFlowFileRepositoryMockRecorder) Load(controllerID, startingID interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Load", reflect.TypeOf((*MockFlowFileRepository)(nil).Load), controllerID, startingID)
}

// NextSequence mocks base method.
func (m *MockFlowFileRepository) NextSequence() (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "NextSequence")
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// NextSequence indicates an expected call of NextSequence.
func (mr *MockFlowFileRepositoryMockRecorder) NextSequence() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NextSequence", reflect.TypeOf((*MockFlowFileRepository)(nil).NextSequence))
}

// UpdateRepository mocks base method.
func (m *MockFlowFileRepository) UpdateRepository(batch []*flowfile.Record) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "UpdateRepository", batch)
	ret0, _ := ret[0].(error)
	return ret0
}

// UpdateRepository indicates an expected call of UpdateRepository.
func (mr *MockFlowFileRepositoryMockRecorder) UpdateRepository(batch interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "UpdateRepository", reflect.TypeOf((*MockFlowFileRepository)(nil).UpdateRepository), batch)
}

// Close mocks base method.
func (m *MockFlowFileRepository) Close() error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Close")
	ret0, _ := ret[0].(error)
	return ret0
}

// Close indicates an expected call of Close.
func (mr *MockFlowFileRepositoryMockRecorder) Close() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Close", reflect.TypeOf((*MockFlowFileRepository)(nil).Close))
}

// IsVolatile mocks base method.
func (m *MockFlowFileRepository) IsVolatile() bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "IsVolatile")
	ret0, _ := ret[0].(bool)
	return ret0
}

// IsVolatile indicates an expected call of IsVolatile.
func (mr *MockFlowFileRepositoryMockRecorder) IsVolatile() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "IsVolatile", reflect.TypeOf((*MockFlowFileRepository)(nil).IsVolatile))
}
