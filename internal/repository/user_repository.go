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

// ErrDuplicateUser is returned when a create collides with an existing email.
var ErrDuplicateUser = errors.New("user already exists")

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserRepository is the credential store: identity, password hash, role and
// active flag live here. Email uniqueness is enforced with a pointer item
// keyed by the address.
type UserRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func emailPK(email string) string {
	return "EMAIL!" + email
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Claim the email first; a conditional put makes the address unique.
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: emailPK(user.Email)},
			"SK":      &types.AttributeValueMemberS{Value: "METADATA"},
			"user_id": &types.AttributeValueMemberS{Value: user.ID},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateUser
		}
		r.logger.WithError(err).Error("Failed to claim user email in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		// Release the email claim so a retry can succeed.
		r.deleteItem(ctx, emailPK(user.Email), "METADATA")
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "USER!" + id},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: emailPK(email)},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to resolve email in DynamoDB")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if result.Item == nil {
		return nil, ErrUserNotFound
	}

	idAttr, ok := result.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("malformed email pointer for %s", email)
	}

	return r.GetByID(ctx, idAttr.Value)
}

// Update rewrites the mutable profile fields.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
		UpdateExpression: aws.String("SET first_name = :fn, last_name = :ln, phone = :ph, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fn": &types.AttributeValueMemberS{Value: user.FirstName},
			":ln": &types.AttributeValueMemberS{Value: user.LastName},
			":ph": &types.AttributeValueMemberS{Value: user.Phone},
			":ua": &types.AttributeValueMemberS{Value: user.UpdatedAt.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserNotFound
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

// SetActive flips the active flag; deactivation is the administrative kill
// switch for an identity.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.setAttr(ctx, id, "is_active", &types.AttributeValueMemberBOOL{Value: active})
}

// SetPassword replaces the stored password hash.
func (r *UserRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	return r.setAttr(ctx, id, "password_hash", &types.AttributeValueMemberS{Value: passwordHash})
}

// SetLastLogin stamps the most recent successful login.
func (r *UserRepository) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.setAttr(ctx, id, "last_login", &types.AttributeValueMemberS{Value: at.Format(time.RFC3339)})
}

// ListByRole scans for every user carrying the given role. The user base is
// school-sized; a filtered scan is cheaper than maintaining an index.
func (r *UserRepository) ListByRole(ctx context.Context, role string) ([]*models.User, error) {
	var users []*models.User
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("begins_with(PK, :pk) AND #role = :role"),
			ExpressionAttributeNames: map[string]string{
				"#role": "role",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":   &types.AttributeValueMemberS{Value: "USER!"},
				":role": &types.AttributeValueMemberS{Value: role},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			r.logger.WithError(err).Error("Failed to scan users by role")
			return nil, fmt.Errorf("failed to list users by role: %w", err)
		}

		for _, item := range result.Items {
			var user models.User
			if err := attributevalue.UnmarshalMap(item, &user); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user: %w", err)
			}
			users = append(users, &user)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return users, nil
}

func (r *UserRepository) setAttr(ctx context.Context, id, name string, value types.AttributeValue) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "USER!" + id},
			"SK": &types.AttributeValueMemberS{Value: "METADATA"},
		},
		UpdateExpression: aws.String("SET #attr = :val, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#attr": name,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":val": value,
			":ua":  &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserNotFound
		}
		r.logger.WithError(err).WithField("attr", name).Error("Failed to update user attribute")
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (r *UserRepository) deleteItem(ctx context.Context, pk, sk string) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		r.logger.WithError(err).WithField("pk", pk).Warn("Failed to clean up item")
	}
}
