package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"derm-kiosk-agent/internal/consultation"
)

// FindSimilarArgs are the typed arguments of the find_similar_cases tool.
type FindSimilarArgs struct {
	ImageBase64 string  `json:"image_base64"`
	TopK        int     `json:"top_k,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
}

// Embedder turns an image into a vector for nearest-neighbor search. The
// embedding model itself runs in an external service.
type Embedder interface {
	EmbedImage(ctx context.Context, imageBase64 string) ([]float32, error)
}

// HTTPEmbedder calls the embedding service over HTTP.
type HTTPEmbedder struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPEmbedder(baseURL string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (e *HTTPEmbedder) EmbedImage(ctx context.Context, imageBase64 string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"image_base64": imageBase64})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service error: %s - %s", resp.Status, string(respBody))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return out.Embedding, nil
}

// SimilarCasesTool retrieves precedent cases from the Weaviate index by
// image-embedding similarity.
type SimilarCasesTool struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
}

func NewSimilarCasesTool(client *weaviate.Client, embedder Embedder, className string) *SimilarCasesTool {
	if className == "" {
		className = "DermCase"
	}
	return &SimilarCasesTool{client: client, embedder: embedder, className: className}
}

func (t *SimilarCasesTool) Name() string { return "find_similar_cases" }

func (t *SimilarCasesTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{
		Name:        t.Name(),
		Description: "Search the case index for dermatology cases visually similar to the patient's image.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"image_base64": {"type": "string", "description": "Base64-encoded image for similarity search"},
				"top_k": {"type": "integer", "description": "Number of similar cases to return"},
				"min_score": {"type": "number", "description": "Minimum similarity score (0-1)"}
			},
			"required": ["image_base64"]
		}`),
	}
}

// dermCaseQueryResponse mirrors the GraphQL Get shape. Weaviate keys the
// result list by class name, so the inner object is decoded as a map and
// indexed by the configured class.
type dermCaseQueryResponse struct {
	Get map[string][]dermCaseResult `json:"Get"`
}

type dermCaseResult struct {
	CaseID      string   `json:"case_id"`
	Condition   string   `json:"condition"`
	KeyFeatures []string `json:"key_features"`
	Treatment   string   `json:"treatment"`
	Additional  struct {
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

func (t *SimilarCasesTool) Invoke(ctx context.Context, raw json.RawMessage) consultation.ToolResult {
	var args FindSimilarArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(fmt.Sprintf("find_similar_cases: bad arguments: %v", err))
	}
	if args.ImageBase64 == "" {
		return failure("find_similar_cases: image_base64 is required")
	}
	if args.TopK <= 0 {
		args.TopK = 3
	}
	if args.MinScore <= 0 {
		args.MinScore = 0.7
	}

	vector, err := t.embedder.EmbedImage(ctx, args.ImageBase64)
	if err != nil {
		slog.Error("failed to embed image for case search", "error", err)
		return failure(fmt.Sprintf("find_similar_cases: embed image: %v", err))
	}

	nearVector := t.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(args.MinScore))

	fields := []graphql.Field{
		{Name: "case_id"},
		{Name: "condition"},
		{Name: "key_features"},
		{Name: "treatment"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := t.client.GraphQL().Get().
		WithClassName(t.className).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(args.TopK).
		Do(ctx)
	if err != nil {
		slog.Error("weaviate case search failed", "error", err)
		return failure(fmt.Sprintf("find_similar_cases: weaviate search: %v", err))
	}

	cases, err := casesFromResponse(result, t.className)
	if err != nil {
		return failure(fmt.Sprintf("find_similar_cases: parse results: %v", err))
	}

	slog.Debug("case search complete", "found", len(cases), "top_k", args.TopK, "min_score", args.MinScore)
	return consultation.ToolResult{Success: true, Data: cases}
}

// casesFromResponse extracts the typed case list for the given class from a
// GraphQL response.
func casesFromResponse(resp *models.GraphQLResponse, className string) ([]consultation.SimilarCase, error) {
	parsed, err := parseGraphQLResponse[dermCaseQueryResponse](resp, className)
	if err != nil {
		return nil, err
	}

	results := parsed.Get[className]
	cases := make([]consultation.SimilarCase, 0, len(results))
	for _, c := range results {
		cases = append(cases, consultation.SimilarCase{
			CaseID:          c.CaseID,
			Condition:       c.Condition,
			SimilarityScore: c.Additional.Certainty,
			KeyFeatures:     c.KeyFeatures,
			Treatment:       c.Treatment,
		})
	}
	return cases, nil
}

// parseGraphQLResponse unmarshals a GraphQL response into a typed struct by
// round-tripping through JSON. Errors reported by the server are surfaced
// before any decode attempt.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse, class string) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error on %s: %s", class, resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}
