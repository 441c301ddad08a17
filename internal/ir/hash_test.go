package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultHashIgnoresKeyOrder(t *testing.T) {
	a, err := ResultHash(IRObject{"x": IRInt(1), "y": IRString("z")})
	require.NoError(t, err)
	b, err := ResultHash(IRObject{"y": IRString("z"), "x": IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestResultHashChangesWithContent(t *testing.T) {
	a, err := ResultHash(IRArray{IRInt(1)})
	require.NoError(t, err)
	b, err := ResultHash(IRArray{IRInt(2)})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestResultHashRejectsNull(t *testing.T) {
	_, err := ResultHash(IRNull{})
	assert.Error(t, err)
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`"x"`)
	assert.NotEqual(t, hashWithDomain(DomainResult, data), hashWithDomain(DomainDocument, data))
	assert.Equal(t, DocumentHash("query: A: {}"), DocumentHash("query: A: {}"))
}
