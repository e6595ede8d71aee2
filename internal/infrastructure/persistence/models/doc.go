// Package models contains GORM persistence models for the audit database.
// Domain and application types stay free of ORM tags; repositories map
// between them and these models.
package models
