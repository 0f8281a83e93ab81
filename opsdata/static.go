package opsdata

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Static is an in-memory DynamoDBBatchAPI for demos and offline development.
// Lookups match on string key attributes only.
type Static struct {
	// Tables maps a table name to its items.
	Tables map[string][]Item
}

// BatchGetItem implements DynamoDBBatchAPI. Every requested key that matches
// an item is returned; misses are silently absent, as in the real service.
func (s *Static) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	out := &dynamodb.BatchGetItemOutput{
		Responses: make(map[string][]map[string]types.AttributeValue),
	}
	for table, req := range params.RequestItems {
		for _, key := range req.Keys {
			for _, item := range s.Tables[table] {
				if matchesKey(item, key) {
					out.Responses[table] = append(out.Responses[table], item)
					break
				}
			}
		}
	}
	return out, nil
}

func matchesKey(item Item, key map[string]types.AttributeValue) bool {
	for attr, want := range key {
		wantS, ok := want.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		haveS, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok || haveS.Value != wantS.Value {
			return false
		}
	}
	return true
}

var _ DynamoDBBatchAPI = (*Static)(nil)
