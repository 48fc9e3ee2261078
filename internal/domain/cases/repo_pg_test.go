package cases

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearch_NoFilter(t *testing.T) {
	countSQL, countArgs, listSQL, listArgs, err := buildSearch(SearchFilter{}, 20, 40)
	require.NoError(t, err)

	assert.Contains(t, countSQL, "COUNT(")
	assert.Contains(t, countSQL, `FROM "cases"`)
	assert.NotContains(t, countSQL, "WHERE")
	assert.Empty(t, countArgs)
	assert.Contains(t, listSQL, `ORDER BY "created_at" DESC, "case_code" DESC`)
	assert.Contains(t, listSQL, "LIMIT $1 OFFSET $2")
	assert.Len(t, listArgs, 2)
}

func TestBuildSearch_Filters(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	countSQL, countArgs, _, _, err := buildSearch(SearchFilter{
		PatientCode: "CC-1",
		PatientName: "ana",
		State:       StateToSign,
		Pathologist: "P1",
		TestID:      "898101",
		CreatedFrom: &from,
	}, 10, 0)
	require.NoError(t, err)

	for _, frag := range []string{
		"patient_info->>'patient_code' = $",
		"patient_info->>'name' ILIKE $",
		`"state" = $`,
		"assigned_pathologist->>'id' = $",
		" OR ",
		"samples @> $",
		`"created_at" >= $`,
	} {
		assert.True(t, strings.Contains(countSQL, frag), "missing %q in %s", frag, countSQL)
	}
	assert.Contains(t, countArgs, "%ana%")
	assert.Contains(t, countArgs, `[{"tests":[{"id":"898101"}]}]`)
	assert.Contains(t, countArgs, string(StateToSign))
}
