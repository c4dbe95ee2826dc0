package models

import (
	"time"
)

// Todo is one to-do item. (TodoID, UserID) is the row identity in every store.
type Todo struct {
	TodoID        string    `json:"todoId" dynamodbav:"todoId"`
	UserID        string    `json:"userId" dynamodbav:"userId"`
	Name          string    `json:"name" dynamodbav:"name"`
	DueDate       string    `json:"dueDate" dynamodbav:"dueDate"`
	Done          bool      `json:"done" dynamodbav:"done"`
	AttachmentURL string    `json:"attachmentUrl" dynamodbav:"attachmentUrl"`
	CreatedAt     time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

type CreateTodoRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	DueDate string `json:"dueDate" validate:"required,calendardate"`
}
