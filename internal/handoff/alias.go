package handoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
)

// maxAliasAttempts bounds the collision-retry loop. With the word lists
// above the space is ~150k combinations, so hitting this limit means the
// registry has degenerated rather than bad luck.
const maxAliasAttempts = 50

// ErrAliasSpaceExhausted is returned when every draw collided.
var ErrAliasSpaceExhausted = errors.New("could not draw an unused alias")

// ExistsFunc reports whether an alias is already taken.
type ExistsFunc func(ctx context.Context, alias string) (bool, error)

// Generate draws a memorable verb-adjective-noun alias, retrying on
// collision against exists.
func Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < maxAliasAttempts; attempt++ {
		alias := randomAlias()
		taken, err := exists(ctx, alias)
		if err != nil {
			return "", fmt.Errorf("alias collision check: %w", err)
		}
		if !taken {
			return alias, nil
		}
	}
	return "", ErrAliasSpaceExhausted
}

func randomAlias() string {
	return verbs[rand.Intn(len(verbs))] + "-" +
		adjectives[rand.Intn(len(adjectives))] + "-" +
		nouns[rand.Intn(len(nouns))]
}
