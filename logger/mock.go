package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of Logger.
//
// Devices derive their logger with With, so a test usually expects the child call with
// ExpectChild, which hands the mock itself back to the device.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// ExpectChild expects With to be called with keyValues and to return the mock itself.
func (m *MockLogger) ExpectChild(keyValues ...any) *mock.Call {
	return m.On("With", keyValues...).Return(m)
}

// IgnoreLevel accepts any number of messages at the given levels.
func (m *MockLogger) IgnoreLevel(levels ...Level) *MockLogger {
	for _, level := range levels {
		if method := levelMethod(level); method != "" {
			m.On(method, mock.Anything, mock.Anything).Maybe()
		}
	}

	return m
}

// Messages returns the messages logged at level, in call order.
func (m *MockLogger) Messages(level Level) []string {
	method := levelMethod(level)

	var msgs []string
	for _, call := range m.Calls {
		if call.Method != method || len(call.Arguments) == 0 {
			continue
		}
		if msg, ok := call.Arguments.Get(0).(string); ok {
			msgs = append(msgs, msg)
		}
	}

	return msgs
}

func levelMethod(level Level) string {
	switch level {
	case DebugLevel:
		return "Debug"
	case InfoLevel:
		return "Info"
	case WarnLevel:
		return "Warn"
	case ErrorLevel:
		return "Error"
	case FatalLevel:
		return "Fatal"
	default:
		return ""
	}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

// Fatal records the call. Unlike the slog logger it does not exit.
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) {
	m.Called(msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level Level) {
	m.Called(level)
}

func (m *MockLogger) Level() Level {
	args := m.Called()
	return args.Get(0).(Level)
}

// With returns the logger configured for keyValues, or the mock itself when the expectation
// returns nil.
func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)
	if child, ok := args.Get(0).(Logger); ok && child != nil {
		return child
	}

	return m
}
