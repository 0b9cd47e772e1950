package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func caseSearchResponse(className string) *models.GraphQLResponse {
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				className: []any{
					map[string]any{
						"case_id":      "c1",
						"condition":    "eczema",
						"treatment":    "emollients",
						"key_features": []any{"dry patches"},
						"_additional":  map[string]any{"certainty": 0.9},
					},
				},
			},
		},
	}
}

func TestCasesFromResponseUsesConfiguredClass(t *testing.T) {
	// The result list is keyed by class name, so a non-default class must
	// still decode.
	cases, err := casesFromResponse(caseSearchResponse("SkinCase"), "SkinCase")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "c1", cases[0].CaseID)
	assert.Equal(t, "eczema", cases[0].Condition)
	assert.InDelta(t, 0.9, cases[0].SimilarityScore, 1e-9)
	assert.Equal(t, []string{"dry patches"}, cases[0].KeyFeatures)
	assert.Equal(t, "emollients", cases[0].Treatment)
}

func TestCasesFromResponseMissingClassIsEmpty(t *testing.T) {
	cases, err := casesFromResponse(caseSearchResponse("DermCase"), "SkinCase")
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestCasesFromResponseSurfacesGraphQLErrors(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "class not found"}},
	}
	_, err := casesFromResponse(resp, "DermCase")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestCasesFromResponseNilResponse(t *testing.T) {
	_, err := casesFromResponse(nil, "DermCase")
	assert.Error(t, err)
}
