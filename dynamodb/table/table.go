package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	GSIs           []GSIDefinition
}

// GSIDefinition represents a Global Secondary Index definition. Only keys are projected.
type GSIDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
}

// ExtractPrimaryKey extracts the primary key values from a document.
func (g GSIDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return g.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values:     PrimaryKeyValues{PartitionKey: keyValueFromAV(part)},
	}
	if k.SortKey.Name == "" {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = keyValueFromAV(sort)
	return pk, nil
}

// CreateTableInput describes the table for CreateTable, billed on demand.
func (t TableDefinition) CreateTableInput() *dynamodb.CreateTableInput {
	attrs := map[string]types.ScalarAttributeType{}
	addAttrs := func(k PrimaryKeyDefinition) {
		attrs[k.PartitionKey.Name] = types.ScalarAttributeType(k.PartitionKey.Kind)
		if k.SortKey.Name != "" {
			attrs[k.SortKey.Name] = types.ScalarAttributeType(k.SortKey.Kind)
		}
	}
	addAttrs(t.KeyDefinitions)

	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(t.Name),
		KeySchema:   t.KeyDefinitions.keySchema(),
		BillingMode: types.BillingModePayPerRequest,
	}
	for _, g := range t.GSIs {
		addAttrs(g.KeyDefinitions)
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:  aws.String(g.Name),
			KeySchema:  g.KeyDefinitions.keySchema(),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		})
	}
	// Sorted for stable requests.
	for _, name := range sortedKeys(attrs) {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: attrs[name],
		})
	}
	return in
}

func (k PrimaryKeyDefinition) keySchema() []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{AttributeName: aws.String(k.PartitionKey.Name), KeyType: types.KeyTypeHash}}
	if k.SortKey.Name != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(k.SortKey.Name), KeyType: types.KeyTypeRange})
	}
	return schema
}

func keyValueFromAV(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	}
	return nil
}
