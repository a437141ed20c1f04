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

// ErrNotificationNotFound is returned when no record matches the lookup
// within the recipient's partition.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository persists notification records, one partition per
// recipient. The sort key embeds the creation time so a plain Query returns
// records newest-first, and recipient scoping is baked into the partition
// key: another identity's records are simply not in the partition.
type NotificationRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewNotificationRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *NotificationRepository {
	return &NotificationRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func notificationPK(recipientID string) string {
	return "NOTIFICATION!" + recipientID
}

func notificationSK(createdAt time.Time, id string) string {
	return createdAt.UTC().Format(time.RFC3339Nano) + "!" + id
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: notificationPK(n.RecipientID)}
	item["SK"] = &types.AttributeValueMemberS{Value: notificationSK(n.CreatedAt, n.ID)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store notification in DynamoDB")
		return fmt.Errorf("failed to store notification: %w", err)
	}

	return nil
}

// ListByRecipient returns one page of the recipient's notifications,
// newest-first. Pages are 1-based.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, page, limit int) ([]*models.Notification, error) {
	if page < 1 {
		page = 1
	}
	skip := (page - 1) * limit

	var out []*models.Notification
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			r.logger.WithError(err).Error("Failed to query notifications")
			return nil, fmt.Errorf("failed to list notifications: %w", err)
		}

		for _, item := range result.Items {
			if skip > 0 {
				skip--
				continue
			}
			if len(out) == limit {
				return out, nil
			}
			var n models.Notification
			if err := attributevalue.UnmarshalMap(item, &n); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
			}
			out = append(out, &n)
		}

		if result.LastEvaluatedKey == nil || len(out) == limit {
			return out, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// Counts returns the total and unread record counts for a recipient.
func (r *NotificationRepository) Counts(ctx context.Context, recipientID string) (total, unread int64, err error) {
	total, err = r.count(ctx, recipientID, false)
	if err != nil {
		return 0, 0, err
	}
	unread, err = r.count(ctx, recipientID, true)
	if err != nil {
		return 0, 0, err
	}
	return total, unread, nil
}

func (r *NotificationRepository) count(ctx context.Context, recipientID string, unreadOnly bool) (int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
		},
		Select: types.SelectCount,
	}
	if unreadOnly {
		input.FilterExpression = aws.String("is_read = :unread")
		input.ExpressionAttributeValues[":unread"] = &types.AttributeValueMemberBOOL{Value: false}
	}

	var n int64
	var startKey map[string]types.AttributeValue
	for {
		input.ExclusiveStartKey = startKey
		result, err := r.client.Query(ctx, input)
		if err != nil {
			r.logger.WithError(err).Error("Failed to count notifications")
			return 0, fmt.Errorf("failed to count notifications: %w", err)
		}
		n += int64(result.Count)
		if result.LastEvaluatedKey == nil {
			return n, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// MarkRead flips the read flag on a single record, scoped to the recipient's
// partition. Marking an already-read record succeeds again; the stored
// read_at is simply overwritten.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*models.Notification, error) {
	sk, err := r.findSK(ctx, recipientID, notificationID)
	if err != nil {
		return nil, err
	}

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET is_read = :read, read_at = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":read": &types.AttributeValueMemberBOOL{Value: true},
			":at":   &types.AttributeValueMemberS{Value: at.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to mark notification read")
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}

	var n models.Notification
	if err := attributevalue.UnmarshalMap(result.Attributes, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &n, nil
}

// MarkAllRead marks every unread record in the recipient's partition and
// returns how many were updated.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	var updated int
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			FilterExpression:       aws.String("is_read = :unread"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
				":unread": &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return updated, fmt.Errorf("failed to query unread notifications: %w", err)
		}

		for _, item := range result.Items {
			skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
					"SK": skAttr,
				},
				UpdateExpression: aws.String("SET is_read = :read, read_at = :at"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":read": &types.AttributeValueMemberBOOL{Value: true},
					":at":   &types.AttributeValueMemberS{Value: at.Format(time.RFC3339Nano)},
				},
			})
			if err != nil {
				r.logger.WithError(err).Error("Failed to mark notification read")
				return updated, fmt.Errorf("failed to mark notification read: %w", err)
			}
			updated++
		}

		if result.LastEvaluatedKey == nil {
			return updated, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// findSK locates the sort key for a notification id inside the recipient's
// partition. A miss means the record does not exist or belongs to someone
// else; both look the same to the caller.
func (r *NotificationRepository) findSK(ctx context.Context, recipientID, notificationID string) (string, error) {
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			FilterExpression:       aws.String("id = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: notificationPK(recipientID)},
				":id": &types.AttributeValueMemberS{Value: notificationID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return "", fmt.Errorf("failed to look up notification: %w", err)
		}

		if len(result.Items) > 0 {
			if skAttr, ok := result.Items[0]["SK"].(*types.AttributeValueMemberS); ok {
				return skAttr.Value, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			return "", ErrNotificationNotFound
		}
		startKey = result.LastEvaluatedKey
	}
}
