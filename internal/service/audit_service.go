package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
)

// AuditService provides filtering and statistics over the operation
// audit trail for the operator surface.
type AuditService struct {
	store storage.Store
}

// NewAuditService builds the audit service.
func NewAuditService(store storage.Store) *AuditService {
	return &AuditService{store: store}
}

// Query returns paginated audit entries, newest first.
func (s *AuditService) Query(ctx context.Context, filter model.AuditLogFilter) (*model.AuditLogPage, error) {
	entries, err := s.filteredEntries(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(entries)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	start := min((filter.Page-1)*filter.PageSize, total)
	end := min(start+filter.PageSize, total)

	return &model.AuditLogPage{
		Data:     entries[start:end],
		Total:    total,
		Pages:    (total + filter.PageSize - 1) / filter.PageSize,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByDate aggregates audit entries per day/month/year.
func (s *AuditService) CountByDate(ctx context.Context, dateType string, begin, end *time.Time) ([]map[string]any, error) {
	entries, err := s.filteredEntries(ctx, model.AuditLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}

	counter := make(map[string]int)
	for _, entry := range entries {
		counter[entry.Timestamp.Format(layout)]++
	}
	return mapToKV(counter, "date"), nil
}

// CountByAction aggregates by audit action tag.
func (s *AuditService) CountByAction(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	entries, err := s.filteredEntries(ctx, model.AuditLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, entry := range entries {
		action := entry.Action
		if action == "" {
			action = "UNKNOWN"
		}
		counter[action]++
	}
	return mapToKV(counter, "action"), nil
}

// CountByDevice aggregates by device uuid.
func (s *AuditService) CountByDevice(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	entries, err := s.filteredEntries(ctx, model.AuditLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, entry := range entries {
		uuid := entry.DeviceUUID
		if uuid == "" {
			uuid = "UNKNOWN"
		}
		counter[uuid]++
	}
	return mapToKV(counter, "device"), nil
}

func (s *AuditService) filteredEntries(ctx context.Context, filter model.AuditLogFilter) ([]*model.OperationLogEntry, error) {
	all, err := s.store.ListOperationLogs(ctx)
	if err != nil {
		return nil, serviceErr("list audit entries", err)
	}
	matches := make([]*model.OperationLogEntry, 0, len(all))
	for _, entry := range all {
		if filter.DeviceUUID != "" && !strings.EqualFold(entry.DeviceUUID, filter.DeviceUUID) {
			continue
		}
		if filter.OperationID != "" && entry.OperationID != filter.OperationID {
			continue
		}
		if filter.Action != "" && !strings.EqualFold(entry.Action, filter.Action) {
			continue
		}
		if filter.BeginTime != nil && entry.Timestamp.Before(filter.BeginTime.UTC()) {
			continue
		}
		if filter.EndTime != nil && entry.Timestamp.After(filter.EndTime.UTC()) {
			continue
		}
		matches = append(matches, entry)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	result := make([]map[string]any, 0, len(counter))
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
