// Package ddbdir stores the directory in two DynamoDB tables: a users table
// keyed by ID and a usermeta table keyed by user_id and meta_key.
//
// Login uniqueness is enforced with claim items in the users table. A claim's
// ID is table.ClaimPrefix plus the login and it names its owner, and it is
// written in the same transaction as the user item it belongs to.
package ddbdir

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/acksell/dirrecord/dynamodb/table"
	"github.com/acksell/dirrecord/record"
)

var (
	// ErrDuplicateLogin is returned when a write would give two users the same login.
	ErrDuplicateLogin = errors.New("login already taken")
	// ErrConcurrentUpdate is returned when a user's login changed between the
	// read and the write of a rename.
	ErrConcurrentUpdate = errors.New("user changed concurrently")
)

// Client is the subset of *dynamodb.Client the directory uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

type Options struct {
	UsersTable string
	MetaTable  string
	// NaturalKey is the unique native field guarded by claim items.
	NaturalKey string
	// NewID generates user identities. Defaults to random UUIDs.
	NewID func() string
}

// Store implements record.Store and record.Meta.
type Store struct {
	client     Client
	users      table.TableDefinition
	meta       table.TableDefinition
	naturalKey string
	newID      func() string
}

var (
	_ record.Store = (*Store)(nil)
	_ record.Meta  = (*Store)(nil)
)

func New(client Client, opts Options) (*Store, error) {
	if opts.UsersTable == "" || opts.MetaTable == "" {
		return nil, errors.New("users and meta table names are required")
	}
	if opts.NaturalKey == "" {
		return nil, errors.New("natural key is required")
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Store{
		client:     client,
		users:      table.UsersTable(opts.UsersTable),
		meta:       table.MetaTable(opts.MetaTable),
		naturalKey: opts.NaturalKey,
		newID:      opts.NewID,
	}, nil
}

// CreateTables provisions both tables and waits for them to become active.
// Existing tables are left alone.
func (s *Store) CreateTables(ctx context.Context, maxWait time.Duration) error {
	for _, def := range []table.TableDefinition{s.users, s.meta} {
		_, err := s.client.CreateTable(ctx, def.CreateTableInput())
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
		waiter := dynamodb.NewTableExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(def.Name)}, maxWait); err != nil {
			return fmt.Errorf("wait for table %s: %w", def.Name, err)
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, fields map[string]any) (record.ID, error) {
	id := s.newID()
	rec := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if v != nil {
			rec[k] = v
		}
	}
	rec[table.UserIDAttr] = id
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return "", fmt.Errorf("marshal user: %w", err)
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(table.UserIDAttr))).
		Build()
	if err != nil {
		return "", fmt.Errorf("build condition: %w", err)
	}
	put := types.Put{
		TableName:                aws.String(s.users.Name),
		Item:                     item,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	}

	login, err := s.login(rec[s.naturalKey])
	if err != nil {
		return "", err
	}
	if login == "" {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                put.TableName,
			Item:                     put.Item,
			ConditionExpression:      put.ConditionExpression,
			ExpressionAttributeNames: put.ExpressionAttributeNames,
		})
		if err != nil {
			return "", fmt.Errorf("put user: %w", err)
		}
		return record.ID(id), nil
	}

	claim, err := s.claimPut(login, id)
	if err != nil {
		return "", err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Put: &put}, claim},
	})
	if failed(err, 1) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateLogin, login)
	}
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return record.ID(id), nil
}

func (s *Store) Update(ctx context.Context, id record.ID, fields map[string]any) error {
	return s.update(ctx, id, fields)
}

// UpdateNativeExtra shares the primary write path; items have no column split.
func (s *Store) UpdateNativeExtra(ctx context.Context, id record.ID, fields map[string]any) error {
	return s.update(ctx, id, fields)
}

func (s *Store) update(ctx context.Context, id record.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	v, renames := fields[s.naturalKey]
	if !renames {
		return s.updateItem(ctx, id, fields)
	}
	next, err := s.login(v)
	if err != nil {
		return err
	}
	prev, err := s.currentLogin(ctx, id)
	if err != nil {
		return err
	}
	if prev == next {
		return s.updateItem(ctx, id, fields)
	}

	// The user item only changes if its login is still the one read above.
	nk := expression.Name(s.naturalKey)
	unchanged := expression.Equal(nk, expression.Value(prev))
	if prev == "" {
		unchanged = expression.AttributeNotExists(nk).Or(unchanged)
	}
	upd, err := s.userUpdate(id, fields, unchanged)
	if err != nil {
		return err
	}
	items := []types.TransactWriteItem{{Update: upd}}
	claimAt := -1
	if next != "" {
		claim, err := s.claimPut(next, string(id))
		if err != nil {
			return err
		}
		claimAt = len(items)
		items = append(items, claim)
	}
	if prev != "" {
		release, err := s.claimDelete(prev, string(id))
		if err != nil {
			return err
		}
		items = append(items, release)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case failed(err, 0):
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
	case claimAt > 0 && failed(err, claimAt):
		return fmt.Errorf("%w: %s", ErrDuplicateLogin, next)
	default:
		return fmt.Errorf("rename user %s: %w", id, err)
	}
}

func (s *Store) updateItem(ctx context.Context, id record.ID, fields map[string]any) error {
	upd, err := s.userUpdate(id, fields, expression.ConditionBuilder{})
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 upd.TableName,
		Key:                       upd.Key,
		UpdateExpression:          upd.UpdateExpression,
		ConditionExpression:       upd.ConditionExpression,
		ExpressionAttributeNames:  upd.ExpressionAttributeNames,
		ExpressionAttributeValues: upd.ExpressionAttributeValues,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return record.ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	return nil
}

// userUpdate sets fields on an existing user item, removing nil ones. A
// non-empty extra condition is and-ed with the existence check.
func (s *Store) userUpdate(id record.ID, fields map[string]any, extra expression.ConditionBuilder) (*types.Update, error) {
	key, err := s.userKey(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var upd expression.UpdateBuilder
	for _, k := range names {
		if fields[k] == nil {
			upd = upd.Remove(expression.Name(k))
			continue
		}
		upd = upd.Set(expression.Name(k), expression.Value(fields[k]))
	}
	cond := expression.AttributeExists(expression.Name(table.UserIDAttr))
	if extra.IsSet() {
		cond = cond.And(extra)
	}
	e, err := expression.NewBuilder().WithCondition(cond).WithUpdate(upd).Build()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	return &types.Update{
		TableName:                 aws.String(s.users.Name),
		Key:                       key,
		UpdateExpression:          e.Update(),
		ConditionExpression:       e.Condition(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
	}, nil
}

func (s *Store) FetchByIdentity(ctx context.Context, id record.ID) (map[string]any, error) {
	if strings.HasPrefix(string(id), table.ClaimPrefix) {
		return nil, record.ErrRecordNotFound
	}
	key, err := s.userKey(id)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.users.Name),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, record.ErrRecordNotFound
	}
	var rec map[string]any
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
	}
	delete(rec, table.UserIDAttr)
	return rec, nil
}

func (s *Store) FindByNaturalKey(ctx context.Context, value any) (record.ID, bool, error) {
	login, err := s.login(value)
	if err != nil {
		return "", false, err
	}
	if login == "" {
		return "", false, nil
	}
	key, err := s.claimKey(login)
	if err != nil {
		return "", false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.users.Name),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("get login claim: %w", err)
	}
	if out.Item == nil {
		return "", false, nil
	}
	var c claim
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return "", false, fmt.Errorf("unmarshal login claim: %w", err)
	}
	return record.ID(c.Owner), true, nil
}

func (s *Store) Get(ctx context.Context, id record.ID) (map[string]string, error) {
	e, err := expression.NewBuilder().
		WithKeyCondition(expression.Key(table.MetaUserAttr).Equal(expression.Value(string(id)))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.meta.Name),
		KeyConditionExpression:    e.KeyCondition(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	out := make(map[string]string)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query meta of %s: %w", id, err)
		}
		var rows []metaRow
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &rows); err != nil {
			return nil, fmt.Errorf("unmarshal meta of %s: %w", id, err)
		}
		for _, r := range rows {
			out[r.Key] = r.Value
		}
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, id record.ID, key, value string) error {
	item, err := attributevalue.MarshalMap(metaRow{UserID: string(id), Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", key, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.meta.Name),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id record.ID, key string) error {
	k, err := s.meta.KeyDefinitions.NewKey(string(id), key).DDB()
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.meta.Name),
		Key:       k,
	})
	if err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}

type metaRow struct {
	UserID string `dynamodbav:"user_id"`
	Key    string `dynamodbav:"meta_key"`
	Value  string `dynamodbav:"meta_value"`
}

type claim struct {
	ID    string `dynamodbav:"ID"`
	Owner string `dynamodbav:"owner_id"`
}

// currentLogin reads the stored login of id, "" when it has none.
func (s *Store) currentLogin(ctx context.Context, id record.ID) (string, error) {
	rec, err := s.FetchByIdentity(ctx, id)
	if err != nil {
		return "", err
	}
	return s.login(rec[s.naturalKey])
}

// claimPut takes login for owner unless another user holds it.
func (s *Store) claimPut(login, owner string) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(claim{ID: table.ClaimPrefix + login, Owner: owner})
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal login claim: %w", err)
	}
	e, err := expression.NewBuilder().WithCondition(s.ownedBy(owner)).Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("build claim condition: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:                 aws.String(s.users.Name),
		Item:                      item,
		ConditionExpression:       e.Condition(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
	}}, nil
}

// claimDelete releases login, leaving claims of other users in place.
func (s *Store) claimDelete(login, owner string) (types.TransactWriteItem, error) {
	key, err := s.claimKey(login)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	e, err := expression.NewBuilder().WithCondition(s.ownedBy(owner)).Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("build claim condition: %w", err)
	}
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(s.users.Name),
		Key:                       key,
		ConditionExpression:       e.Condition(),
		ExpressionAttributeNames:  e.Names(),
		ExpressionAttributeValues: e.Values(),
	}}, nil
}

func (s *Store) ownedBy(owner string) expression.ConditionBuilder {
	return expression.AttributeNotExists(expression.Name(table.UserIDAttr)).
		Or(expression.Equal(expression.Name(table.ClaimOwner), expression.Value(owner)))
}

func (s *Store) userKey(id record.ID) (map[string]types.AttributeValue, error) {
	return s.users.KeyDefinitions.NewKey(string(id)).DDB()
}

func (s *Store) claimKey(login string) (map[string]types.AttributeValue, error) {
	return s.users.KeyDefinitions.NewKey(table.ClaimPrefix + login).DDB()
}

func (s *Store) login(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	login, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("natural key must be a string, got %T", v)
	}
	return login, nil
}

// failed reports whether err is a cancelled transaction whose item i failed
// its condition check.
func failed(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[i].Code) == "ConditionalCheckFailed"
}
