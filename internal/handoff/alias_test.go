package handoff

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aliasShape = regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+$`)

func TestGenerateShape(t *testing.T) {
	noCollisions := func(ctx context.Context, alias string) (bool, error) { return false, nil }

	for i := 0; i < 100; i++ {
		alias, err := Generate(context.Background(), noCollisions)
		require.NoError(t, err)
		assert.Regexp(t, aliasShape, alias)
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	var calls int
	exists := func(ctx context.Context, alias string) (bool, error) {
		calls++
		return calls <= 3, nil
	}

	alias, err := Generate(context.Background(), exists)
	require.NoError(t, err)
	assert.NotEmpty(t, alias)
	assert.Equal(t, 4, calls)
}

func TestGenerateGivesUpAfterMaxAttempts(t *testing.T) {
	allTaken := func(ctx context.Context, alias string) (bool, error) { return true, nil }

	_, err := Generate(context.Background(), allTaken)
	require.ErrorIs(t, err, ErrAliasSpaceExhausted)
}

func TestGeneratePropagatesCheckError(t *testing.T) {
	boom := errors.New("db locked")
	failing := func(ctx context.Context, alias string) (bool, error) { return false, boom }

	_, err := Generate(context.Background(), failing)
	require.ErrorIs(t, err, boom)
}
