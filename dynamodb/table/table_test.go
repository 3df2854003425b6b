package table

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

func byEmailTable() TableDefinition {
	def := UsersTable("users")
	def.GSIs = []GSIDefinition{{
		Name:           "by_email",
		KeyDefinitions: PrimaryKeyDefinition{PartitionKey: KeyDef{Name: "user_email", Kind: KeyKindS}},
	}}
	return def
}

func TestPrimaryKeyDDB(t *testing.T) {
	meta := MetaTable("usermeta")

	t.Run("partition and sort", func(t *testing.T) {
		key, err := meta.KeyDefinitions.NewKey("42", "nickname").DDB()
		require.NoError(t, err)
		require.Equal(t, map[string]types.AttributeValue{
			MetaUserAttr: &types.AttributeValueMemberS{Value: "42"},
			MetaKeyAttr:  &types.AttributeValueMemberS{Value: "nickname"},
		}, key)
	})
	t.Run("missing sort key", func(t *testing.T) {
		_, err := meta.KeyDefinitions.NewKey("42").DDB()
		require.Error(t, err)
	})
	t.Run("kind mismatch", func(t *testing.T) {
		_, err := meta.KeyDefinitions.NewKey(42, "nickname").DDB()
		require.Error(t, err, "numbers marshal to N, the table wants S")
	})
}

func TestExtractPrimaryKey(t *testing.T) {
	users := byEmailTable()
	doc := map[string]types.AttributeValue{
		UserIDAttr:   &types.AttributeValueMemberS{Value: "abc"},
		"user_email": &types.AttributeValueMemberS{Value: "b@x.com"},
	}
	pk, err := users.ExtractPrimaryKey(doc)
	require.NoError(t, err)
	require.Equal(t, "abc", pk.Values.PartitionKey)

	gsi, err := users.GSIs[0].ExtractPrimaryKey(doc)
	require.NoError(t, err)
	require.Equal(t, "b@x.com", gsi.Values.PartitionKey)

	_, err = MetaTable("usermeta").ExtractPrimaryKey(doc)
	require.Error(t, err)
}

func TestCreateTableInput(t *testing.T) {
	in := byEmailTable().CreateTableInput()
	require.Equal(t, "users", aws.ToString(in.TableName))
	require.Equal(t, types.BillingModePayPerRequest, in.BillingMode)
	require.Equal(t, []types.AttributeDefinition{
		{AttributeName: aws.String("ID"), AttributeType: types.ScalarAttributeTypeS},
		{AttributeName: aws.String("user_email"), AttributeType: types.ScalarAttributeTypeS},
	}, in.AttributeDefinitions)
	require.Len(t, in.GlobalSecondaryIndexes, 1)
	require.Equal(t, "by_email", aws.ToString(in.GlobalSecondaryIndexes[0].IndexName))
	require.Equal(t, types.ProjectionTypeKeysOnly, in.GlobalSecondaryIndexes[0].Projection.ProjectionType)

	meta := MetaTable("usermeta").CreateTableInput()
	require.Len(t, meta.KeySchema, 2)
	require.Equal(t, types.KeyTypeRange, meta.KeySchema[1].KeyType)
	require.Empty(t, meta.GlobalSecondaryIndexes)
}
