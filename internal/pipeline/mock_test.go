package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/org-enricher/internal/llm"
	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

// --- Pipedrive Mock ---

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) OrganizationFields(ctx context.Context) ([]pipedrive.Field, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipedrive.Field), args.Error(1)
}

func (m *mockCRM) SearchOrganizations(ctx context.Context, term string) ([]pipedrive.OrganizationMatch, error) {
	args := m.Called(ctx, term)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipedrive.OrganizationMatch), args.Error(1)
}

func (m *mockCRM) UpdateOrganization(ctx context.Context, id int64, fields map[string]any) error {
	args := m.Called(ctx, id, fields)
	return args.Error(0)
}

func (m *mockCRM) CreateNote(ctx context.Context, note pipedrive.Note) (int64, error) {
	args := m.Called(ctx, note)
	return int64(args.Int(0)), args.Error(1)
}

// --- LLM Mock ---

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}
