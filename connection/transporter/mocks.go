package transporter

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"
)

type MockTransporter struct {
	mock.Mock
}

func (m *MockTransporter) Open(ctx context.Context, endpoint *url.URL, subprotocol string, headers http.Header) {
	m.Called(endpoint.String(), subprotocol)
}

func (m *MockTransporter) Send(message []byte) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockTransporter) Close(code int, reason string) {
	m.Called(code, reason)
}

func (m *MockTransporter) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockTransporter) Err() error {
	args := m.Called()
	return args.Error(0)
}

type MockListener struct {
	mock.Mock
}

func (m *MockListener) OnOpen() {
	m.Called()
}

func (m *MockListener) OnMessage(data []byte) {
	m.Called(data)
}

func (m *MockListener) OnError(err error) {
	m.Called(err)
}

func (m *MockListener) OnClose(code int, reason string, wasClean bool) {
	m.Called(code, reason, wasClean)
}
