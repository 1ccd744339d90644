package model

// AuditLogPage is the paginated payload for audit log listings.
type AuditLogPage struct {
	Data     []*OperationLogEntry `json:"data"`
	Total    int                  `json:"total"`
	Pages    int                  `json:"pages"`
	PageNum  int                  `json:"pageNum"`
	PageSize int                  `json:"pageSize"`
}

// OperationPage is the paginated payload for a device's operation list.
type OperationPage struct {
	Data     []*OperationView `json:"data"`
	Total    int              `json:"total"`
	Pages    int              `json:"pages"`
	PageNum  int              `json:"pageNum"`
	PageSize int              `json:"pageSize"`
}
