package models

import (
	"time"
)

const (
	RoleStudent     = "student"
	RoleTeacher     = "teacher"
	RolePrincipal   = "principal"
	RoleAdmin       = "admin"
	RoleNonTeaching = "non-teaching"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleStudent, RoleTeacher, RolePrincipal, RoleAdmin, RoleNonTeaching:
		return true
	}
	return false
}

// IsStaff reports whether role may address arbitrary class/subject rooms.
func IsStaff(role string) bool {
	switch role {
	case RoleTeacher, RolePrincipal, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Email        string     `json:"email" dynamodbav:"email"`
	PasswordHash string     `json:"-" dynamodbav:"password_hash"`
	Role         string     `json:"role" dynamodbav:"role"`
	FirstName    string     `json:"first_name" dynamodbav:"first_name"`
	LastName     string     `json:"last_name" dynamodbav:"last_name"`
	Phone        string     `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Active       bool       `json:"is_active" dynamodbav:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty" dynamodbav:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER!" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
