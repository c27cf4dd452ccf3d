package uncertainty

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/reduce"
)

type mockReducer struct {
	mock.Mock
}

func (m *mockReducer) Reduce(ctx context.Context, req reduce.Request) (reduce.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(reduce.Response), args.Error(1)
}

func kindIs(k reduce.Kind) any {
	return mock.MatchedBy(func(req reduce.Request) bool { return req.Kind == k })
}

func tileIs(n int) any {
	return mock.MatchedBy(func(req reduce.Request) bool { return req.TileScale == n })
}
