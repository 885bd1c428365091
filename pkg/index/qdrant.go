// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/gnosis/pkg/config"
)

// QdrantIndex queries the vector side of the corpus. Points carry the
// passage id as UUID and exact-match payload fields for filtering.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// VectorHit is one scored point from the vector index.
type VectorHit struct {
	ID    string
	Score float32
}

// NewQdrantIndex connects to a Qdrant instance.
func NewQdrantIndex(cfg *config.QdrantConfig, collection string) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantIndex{client: client, collection: collection}, nil
}

// Search returns the topK nearest points, optionally restricted by
// exact-match payload filters.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, f Filters) ([]VectorHit, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(false),
	}
	if payload := f.payload(); len(payload) > 0 {
		searchRequest.Filter = buildQdrantFilter(payload)
	}

	searchResult, err := q.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search failed: %v", ErrUnavailable, err)
	}

	hits := make([]VectorHit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		var id string
		if point.Id != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}
		if id == "" {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Score: point.Score})
	}
	return hits, nil
}

// Healthy checks the collection exists and is reachable.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: collection %q does not exist", ErrUnavailable, q.collection)
	}
	return nil
}

// Close closes the client connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}
