package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/store"
)

func TestMockDriver_Find(t *testing.T) {
	d := new(MockDriver)
	el := new(MockElement)
	q := driver.Query{Strategy: driver.ByCSS, Selector: ".row"}
	d.On("Find", mock.Anything, q).Return([]driver.Element{el}, nil).Once()
	d.On("Find", mock.Anything, mock.Anything).Return(nil, driver.ErrStaleElement)

	els, err := d.Find(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Same(t, el, els[0])

	_, err = d.Find(context.Background(), q)
	assert.ErrorIs(t, err, driver.ErrStaleElement)
	d.AssertExpectations(t)
}

func TestMockRunStore_RecentRuns(t *testing.T) {
	s := new(MockRunStore)
	s.On("RecentRuns", mock.Anything, "", 5).Return([]store.RunSummary{{ID: "r1"}}, nil).Once()
	s.On("RecentRuns", mock.Anything, "other", 5).Return(nil, errors.New("down")).Once()

	runs, err := s.RecentRuns(context.Background(), "", 5)
	require.NoError(t, err)
	assert.Equal(t, "r1", runs[0].ID)

	runs, err = s.RecentRuns(context.Background(), "other", 5)
	assert.Nil(t, runs)
	assert.EqualError(t, err, "down")
	s.AssertExpectations(t)
}
