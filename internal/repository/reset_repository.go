package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/models"
)

// ErrResetCodeNotFound is returned when no live reset code exists for the
// address.
var ErrResetCodeNotFound = errors.New("reset code not found or expired")

// ResetRepository stores password-reset codes in DynamoDB with a TTL
// attribute so expired codes age out on their own.
type ResetRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewResetRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *ResetRepository {
	return &ResetRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func resetPK(email string) string {
	return "RESET!" + email
}

func (r *ResetRepository) Store(ctx context.Context, email string, data models.ResetCodeData) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("failed to marshal reset code: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: resetPK(email)}
	item["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	item["TTL"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", data.ExpiresAt.Unix())}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store reset code in DynamoDB")
		return fmt.Errorf("failed to store reset code: %w", err)
	}

	return nil
}

func (r *ResetRepository) Get(ctx context.Context, email string) (*models.ResetCodeData, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: resetPK(email)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get reset code: %w", err)
	}
	if result.Item == nil {
		return nil, ErrResetCodeNotFound
	}

	var data models.ResetCodeData
	if err := attributevalue.UnmarshalMap(result.Item, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reset code: %w", err)
	}

	// TTL deletion is lazy; an expired item may still be readable.
	if time.Now().After(data.ExpiresAt) {
		return nil, ErrResetCodeNotFound
	}

	return &data, nil
}

func (r *ResetRepository) Delete(ctx context.Context, email string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: resetPK(email)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete reset code: %w", err)
	}
	return nil
}
