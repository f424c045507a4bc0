package schemas

// -- Task Schemas --

// TaskType defines the kind of analysis task.
type TaskType string

const (
	TaskAnalyzeFile      TaskType = "ANALYZE_FILE"
	TaskAnalyzeDirectory TaskType = "ANALYZE_DIRECTORY"
	TaskAnalyzeScript    TaskType = "ANALYZE_SCRIPT"
)

// Task is a unit of work for the analysis engine. Exactly one of Paths or
// Content is used, depending on Type.
type Task struct {
	TaskID string   `json:"task_id"`
	ScanID string   `json:"scan_id"`
	Type   TaskType `json:"type"`
	Target string   `json:"target"`
	Paths  []string `json:"paths,omitempty"`

	// Content is an inline script body for TaskAnalyzeScript.
	Content string `json:"content,omitempty"`
}
