package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/raster"
)

// --- Catalog Mock ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) Image(ctx context.Context, city string, year int, dataset, period string) (raster.Image, error) {
	args := m.Called(ctx, city, year, dataset, period)
	return args.Get(0).(raster.Image), args.Error(1)
}

func (m *mockCatalog) Classifications(ctx context.Context, city string, year int) ([]raster.Image, error) {
	args := m.Called(ctx, city, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]raster.Image), args.Error(1)
}
