package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
)

// UserRepo provides typed DynamoDB operations for the users table.
// PK: user_id. Each user owns two guard items, "email#<email>" and
// "username#<username>", that make both values unique across the table.
type UserRepo struct {
	client    API
	tableName string
}

func NewUserRepo(client API, tableName string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName}
}

type guardItem struct {
	Key     string `dynamodbav:"user_id"`
	OwnerID string `dynamodbav:"owner_id"`
}

// Create writes the user and both guard items in one transaction.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	u.Email = domain.NormalizeEmail(u.Email)
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	puts := []map[string]types.AttributeValue{item}
	for _, g := range []guardItem{
		{Key: emailGuardPrefix + u.Email, OwnerID: u.UserID},
		{Key: usernameGuardPrefix + u.Username, OwnerID: u.UserID},
	} {
		gi, err := attributevalue.MarshalMap(g)
		if err != nil {
			return fmt.Errorf("marshal guard: %w", err)
		}
		puts = append(puts, gi)
	}

	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, it := range puts {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                it,
			ConditionExpression: aws.String("attribute_not_exists(user_id)"),
		}})
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return createError(err)
	}
	return nil
}

// createError maps a cancelled create transaction to the guard that failed.
// Reasons are positional: user item, email guard, username guard.
func createError(err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("create user: %w", err)
	}
	for i, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		switch i {
		case 1:
			return domain.ErrDuplicateEmail
		case 2:
			return domain.ErrDuplicateUsername
		default:
			return fmt.Errorf("user id already exists: %w", domain.ErrConflict)
		}
	}
	return fmt.Errorf("create user: %w", err)
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getByGuard(ctx, emailGuardPrefix+domain.NormalizeEmail(email))
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getByGuard(ctx, usernameGuardPrefix+username)
}

func (r *UserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.guardExists(ctx, emailGuardPrefix+domain.NormalizeEmail(email))
}

func (r *UserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.guardExists(ctx, usernameGuardPrefix+username)
}

// Save writes the mutable fields of an existing user.
func (r *UserRepo) Save(ctx context.Context, u *domain.User) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldEnabled:      u.Enabled,
		fieldPasswordHash: u.PasswordHash,
		fieldRoles:        u.Roles,
		fieldAvatar:       u.Avatar,
		fieldUpdatedAt:    u.UpdatedAt,
	})
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldUserID, u.UserID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return err
}

// Delete removes the user and releases its guard items.
func (r *UserRepo) Delete(ctx context.Context, u *domain.User) error {
	keys := []string{u.UserID, emailGuardPrefix + domain.NormalizeEmail(u.Email), usernameGuardPrefix + u.Username}
	items := make([]types.TransactWriteItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(r.tableName),
			Key:       strKey(fieldUserID, k),
		}})
	}
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (r *UserRepo) getByGuard(ctx context.Context, key string) (*domain.User, error) {
	g, err := r.guard(ctx, key)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return r.Get(ctx, g.OwnerID)
}

func (r *UserRepo) guardExists(ctx context.Context, key string) (bool, error) {
	g, err := r.guard(ctx, key)
	if err != nil {
		return false, err
	}
	return g != nil, nil
}

func (r *UserRepo) guard(ctx context.Context, key string) (*guardItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldUserID, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var g guardItem
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal guard: %w", err)
	}
	return &g, nil
}
