package domain

// ExecutionStatus is the lifecycle state of a single task execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// TaskFrequency is the cadence a task runs on.
type TaskFrequency string

const (
	FrequencyDaily    TaskFrequency = "daily"
	FrequencyWeekly   TaskFrequency = "weekly"
	FrequencyMonthly  TaskFrequency = "monthly"
	FrequencyOnDemand TaskFrequency = "on_demand"
)

// ValidFrequency reports whether f is one of the known cadences.
func ValidFrequency(f TaskFrequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyOnDemand:
		return true
	}
	return false
}

// Credential is a named bundle of provider access secrets owned by a user.
// Secret fields hold ciphertext at rest; they are decrypted just-in-time by
// the execution engine and never persisted or logged in clear form.
type Credential struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	AccessKeyID     string  `json:"-"`
	SecretAccessKey string  `json:"-"`
	SessionToken    *string `json:"-"`
	Region          string  `json:"region"`
	RoleARN         *string `json:"role_arn,omitempty"`
	IsDefault       bool    `json:"is_default"`
	IsActive        bool    `json:"is_active"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

// Task is a reusable description of a provider operation to run.
type Task struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Service     string        `json:"service"`
	Operation   string        `json:"operation"`
	ParamsJSON  *string       `json:"params_json,omitempty"`
	Frequency   TaskFrequency `json:"frequency" enum:"daily,weekly,monthly,on_demand"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

// TaskExecution is one timed attempt to run a task. Exactly one row exists
// per invocation attempt; rows are immutable once terminal.
type TaskExecution struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Status       ExecutionStatus `json:"status" enum:"pending,running,success,failed,cancelled"`
	StartedAt    string          `json:"started_at" format:"date-time"`
	CompletedAt  *string         `json:"completed_at,omitempty" format:"date-time"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ErrorKind    *string         `json:"error_kind,omitempty"`
	JobID        *string         `json:"job_id,omitempty"`
}

// TaskResult holds the raw provider response for a successful execution.
// 1:1 with its execution, created only on success, never mutated.
type TaskResult struct {
	ID          string  `json:"id"`
	ExecutionID string  `json:"execution_id"`
	DataJSON    string  `json:"data_json"`
	MetricsJSON *string `json:"metrics_json,omitempty"`
	RequestID   *string `json:"request_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// APIKey authenticates a server caller as a user.
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one append-only audit record.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
