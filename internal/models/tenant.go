// Package models defines the domain models for Entitled.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus represents the lifecycle state of a tenant.
type TenantStatus string

const (
	// TenantStatusActive is a tenant in good standing.
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended is a tenant whose access has been paused.
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant represents a customer organization on the platform.
type Tenant struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewTenant creates a new active Tenant with the given name and slug.
func NewTenant(name, slug string) *Tenant {
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Status:    TenantStatusActive,
		CreatedAt: time.Now(),
	}
}
