package models

import "time"

type ResetCodeData struct {
	CodeHash  string    `json:"code_hash" dynamodbav:"code_hash"`
	Email     string    `json:"email" dynamodbav:"email"`
	Attempts  int       `json:"attempts" dynamodbav:"attempts"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
}
