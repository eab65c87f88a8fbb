package postgres

import (
	"time"

	"github.com/anatolio-deb/joinbot/internal/ledger"
	"github.com/anatolio-deb/joinbot/internal/request"
)

type Subscription struct {
	PrincipalID int64     `gorm:"primaryKey;autoIncrement:false"`
	ChatID      int64     `gorm:"not null"`
	PlanID      string    `gorm:"size:32"`
	ExpiresAt   time.Time `gorm:"not null;index"`
	RemindedFor *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (m Subscription) toDomain() ledger.Subscription {
	sub := ledger.Subscription{
		PrincipalID: m.PrincipalID,
		ChatID:      m.ChatID,
		PlanID:      m.PlanID,
		ExpiresAt:   m.ExpiresAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.RemindedFor != nil {
		sub.RemindedFor = *m.RemindedFor
	}
	return sub
}

func subscriptionFromDomain(sub ledger.Subscription) Subscription {
	m := Subscription{
		PrincipalID: sub.PrincipalID,
		ChatID:      sub.ChatID,
		PlanID:      sub.PlanID,
		ExpiresAt:   sub.ExpiresAt,
		UpdatedAt:   sub.UpdatedAt,
	}
	if !sub.RemindedFor.IsZero() {
		t := sub.RemindedFor
		m.RemindedFor = &t
	}
	return m
}

type Request struct {
	ID          string `gorm:"primaryKey;size:36"`
	PrincipalID int64  `gorm:"not null;index"`
	PlanID      string `gorm:"size:32;not null"`
	Reference   string `gorm:"size:16"`
	ReceiptRef  string
	Status      string `gorm:"size:32;not null;index"`
	SubmittedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false"`
}

func (Request) TableName() string { return "subscription_requests" }

func (m Request) toDomain() request.Request {
	req := request.Request{
		ID:          m.ID,
		PrincipalID: m.PrincipalID,
		PlanID:      m.PlanID,
		Reference:   m.Reference,
		ReceiptRef:  m.ReceiptRef,
		Status:      request.Status(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.SubmittedAt != nil {
		req.SubmittedAt = *m.SubmittedAt
	}
	return req
}

func requestFromDomain(req request.Request) Request {
	m := Request{
		ID:          req.ID,
		PrincipalID: req.PrincipalID,
		PlanID:      req.PlanID,
		Reference:   req.Reference,
		ReceiptRef:  req.ReceiptRef,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
	if !req.SubmittedAt.IsZero() {
		t := req.SubmittedAt
		m.SubmittedAt = &t
	}
	return m
}

var openStatuses = []string{string(request.AwaitingReceipt), string(request.PendingReview)}
