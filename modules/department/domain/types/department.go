package types

// Department is an organizational unit employees are attached to. The cost
// center feeds payroll register grouping.
type Department struct {
	DepartmentID string `json:"department_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CostCenter   string `json:"cost_center,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}
