package main

import (
	"strings"

	"gorm.io/gorm"
)

type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

func (s SortType) ToString() string {
	return strings.ToUpper(string(s))
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListOptions bounds and orders list queries over the audit trail.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty"`
	Sort   *SortType `json:"sort,omitempty"`
}

func applyListOptions(db *gorm.DB, sortBy string, defaultSort SortType, options *ListOptions) *gorm.DB {
	sort := defaultSort
	offset := 0
	limit := DefaultListLimit

	if options != nil {
		if options.Sort != nil {
			sort = *options.Sort
		}
		offset = int(options.Offset)
		if options.Limit > 0 {
			limit = int(options.Limit)
		}
		if limit > MaxListLimit {
			limit = MaxListLimit
		}
	}

	return db.Order(sortBy + " " + sort.ToString()).Offset(offset).Limit(limit)
}
