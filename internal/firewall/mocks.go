package firewall

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSource is a testify mock of Source.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Mode(ctx context.Context) (Mode, error) {
	args := m.Called(ctx)
	return args.Get(0).(Mode), args.Error(1)
}

func (m *MockSource) ListZones(ctx context.Context) ([]Zone, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Zone), args.Error(1)
}

func (m *MockSource) ListPortRules(ctx context.Context, zone string) ([]PortRule, error) {
	args := m.Called(ctx, zone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]PortRule), args.Error(1)
}

func (m *MockSource) ListServiceBindings(ctx context.Context, zone string) ([]ServiceBinding, error) {
	args := m.Called(ctx, zone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ServiceBinding), args.Error(1)
}

func (m *MockSource) ServiceCatalog(ctx context.Context) (map[string]ServiceDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]ServiceDefinition), args.Error(1)
}

// MockRichRuleSource is a MockSource that also serves rich rules.
type MockRichRuleSource struct {
	MockSource
}

func (m *MockRichRuleSource) ListRichRules(ctx context.Context, zone string) ([]string, error) {
	args := m.Called(ctx, zone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
