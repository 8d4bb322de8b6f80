package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/summa-ledger/summa/pkg/merrors"
)

type createLike struct {
	Currency string `validate:"required,len=3"`
	Amount   int64  `validate:"required,gt=0"`
}

func TestStruct_PassesWhenValid(t *testing.T) {
	err := Struct(createLike{Currency: "USD", Amount: 100})
	require.NoError(t, err)
}

func TestStruct_FailsOnMissingRequired(t *testing.T) {
	err := Struct(createLike{Currency: "", Amount: 100})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestStruct_FailsOnWrongLength(t *testing.T) {
	err := Struct(createLike{Currency: "US", Amount: 100})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestStruct_FailsOnNonPositiveAmount(t *testing.T) {
	err := Struct(createLike{Currency: "USD", Amount: 0})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

type metadataLike struct {
	Key   string `validate:"keymax"`
	Value string `validate:"valuemax"`
}

func TestStruct_KeyMaxTag(t *testing.T) {
	require.NoError(t, Struct(metadataLike{Key: "short", Value: "short"}))

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	err := Struct(metadataLike{Key: string(long), Value: "short"})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

func TestStruct_ValueMaxTag(t *testing.T) {
	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'a'
	}

	err := Struct(metadataLike{Key: "short", Value: string(long)})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}

type nestedLike struct {
	Value any `validate:"nonested"`
}

func TestStruct_NoNestedTag(t *testing.T) {
	require.NoError(t, Struct(nestedLike{Value: "flat"}))
	require.NoError(t, Struct(nestedLike{Value: 42}))

	err := Struct(nestedLike{Value: map[string]any{"nested": true}})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))

	err = Struct(nestedLike{Value: []any{"a", "b"}})
	require.Error(t, err)
	assert.Equal(t, merrors.InvalidArgument, merrors.CodeOf(err))
}
