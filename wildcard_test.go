package xd2031

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchWildcardStandardStarConsumesRest(t *testing.T) {
	assert.True(t, MatchWildcard("HELLO*", "HELLO.PRG", false))
	assert.True(t, MatchWildcard("*", "ANYTHING", false))
	assert.False(t, MatchWildcard("HELLO*", "GOODBYE.PRG", false))
}

func TestMatchWildcardQuestionMarkMatchesOne(t *testing.T) {
	assert.True(t, MatchWildcard("A?C", "ABC", false))
	assert.False(t, MatchWildcard("A?C", "AC", false))
}

func TestMatchWildcardAdvancedBacktracksAfterStar(t *testing.T) {
	assert.True(t, MatchWildcard("*.PRG", "HELLO.PRG", true))
	assert.False(t, MatchWildcard("*.PRG", "HELLO.SEQ", true))
	assert.True(t, MatchWildcard("A*C", "ABBBC", true))
}

func TestMatchWildcardExactNoWildcards(t *testing.T) {
	assert.True(t, MatchWildcard("HELLO", "HELLO", false))
	assert.False(t, MatchWildcard("HELLO", "HELLOX", false))
}
