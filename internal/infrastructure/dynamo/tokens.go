package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-otp-auth/internal/domain"
	"go.uber.org/zap"
)

const maxTokenAttempts = 5

// TokenRepo stores verification tokens, one item per (user, purpose).
// PK: user_id, SK: type. purge_at is the table's TTL attribute.
type TokenRepo struct {
	client    API
	tableName string
	retention time.Duration
}

func NewTokenRepo(client API, tableName string, retention time.Duration) *TokenRepo {
	return &TokenRepo{client: client, tableName: tableName, retention: retention}
}

type tokenItem struct {
	UserID    string           `dynamodbav:"user_id"`
	Purpose   domain.TokenType `dynamodbav:"type"`
	Code      string           `dynamodbav:"code"`
	IssuedAt  time.Time        `dynamodbav:"issued_at"`
	ExpiresAt time.Time        `dynamodbav:"expires_at"`
	PurgeAt   int64            `dynamodbav:"purge_at"`
}

// Update loads the slot with a consistent read, runs fn and commits the
// result with a write conditioned on the slot being unchanged. A lost race
// reruns fn on the fresh state.
func (r *TokenRepo) Update(ctx context.Context, userID string, purpose domain.TokenType, fn func(*domain.TokenSlot) error) error {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		cur, err := r.load(ctx, userID, purpose)
		if err != nil {
			return err
		}
		slot := domain.NewTokenSlot(userID, purpose, cur)
		if err := fn(slot); err != nil {
			return err
		}
		err = r.commit(ctx, slot)
		if err == nil {
			return nil
		}
		if !isConditionFailed(err) {
			return err
		}
	}
	zap.L().Warn("token update abandoned after repeated conflicts",
		zap.String("user_id", userID),
		zap.String("purpose", string(purpose)),
		zap.Int("attempts", maxTokenAttempts),
	)
	return fmt.Errorf("token changed concurrently, try again: %w", domain.ErrConflict)
}

func (r *TokenRepo) load(ctx context.Context, userID string, purpose domain.TokenType) (*domain.VerificationToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldUserID, userID, fieldType, string(purpose)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &domain.VerificationToken{
		UserID:    it.UserID,
		Purpose:   it.Purpose,
		Code:      it.Code,
		IssuedAt:  it.IssuedAt,
		ExpiresAt: it.ExpiresAt,
	}, nil
}

func (r *TokenRepo) commit(ctx context.Context, slot *domain.TokenSlot) error {
	put, remove := slot.Changes()
	if put == nil && !remove {
		return nil
	}
	cond, names, values, err := unchanged(slot.Loaded())
	if err != nil {
		return err
	}
	key := compositeKey(fieldUserID, slot.UserID(), fieldType, string(slot.Purpose()))

	if put != nil {
		item, err := attributevalue.MarshalMap(tokenItem{
			UserID:    put.UserID,
			Purpose:   put.Purpose,
			Code:      put.Code,
			IssuedAt:  put.IssuedAt,
			ExpiresAt: put.ExpiresAt,
			PurgeAt:   put.ExpiresAt.Add(r.retention).Unix(),
		})
		if err != nil {
			return fmt.Errorf("marshal token: %w", err)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(r.tableName),
			Item:                      item,
			ConditionExpression:       aws.String(cond),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		return err
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       key,
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	return err
}

// unchanged builds the condition that the stored item is still the one loaded.
func unchanged(loaded *domain.VerificationToken) (string, map[string]string, map[string]types.AttributeValue, error) {
	if loaded == nil {
		return "attribute_not_exists(#pk)", map[string]string{"#pk": fieldUserID}, nil, nil
	}
	prev, err := attributevalue.Marshal(loaded.IssuedAt)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal issued_at: %w", err)
	}
	return "#ia = :prev",
		map[string]string{"#ia": fieldIssuedAt},
		map[string]types.AttributeValue{":prev": prev},
		nil
}
