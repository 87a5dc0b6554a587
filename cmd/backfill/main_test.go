package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/backfill"
)

func TestBuildSpec(t *testing.T) {
	spec, err := buildSpec("2026-03-01", "")
	require.NoError(t, err)
	assert.Equal(t, backfill.JobTypeDay, spec.Type)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), spec.End)

	spec, err = buildSpec("2026-03-01", "2026-03-04")
	require.NoError(t, err)
	assert.Equal(t, backfill.JobTypeDateRange, spec.Type)

	_, err = buildSpec("", "")
	assert.Error(t, err)
	_, err = buildSpec("2026-03-04", "2026-03-01")
	assert.Error(t, err)
	_, err = buildSpec("March 1", "")
	assert.Error(t, err)
}
