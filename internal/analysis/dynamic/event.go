package dynamic

import (
	"time"

	"github.com/xkilldash9x/jsbox/internal/jsvalue"
)

// EventType categorises a hostcall event.
type EventType string

const (
	EventFunctionCall         EventType = "FUNCTION_CALL"
	EventConsoleLog           EventType = "CONSOLE_LOG"
	EventConsoleWarn          EventType = "CONSOLE_WARN"
	EventConsoleError         EventType = "CONSOLE_ERROR"
	EventDOMManipulation      EventType = "DOM_MANIPULATION"
	EventDataExfiltration     EventType = "DATA_EXFILTRATION"
	EventFetchRequest         EventType = "FETCH_REQUEST"
	EventNetworkRequest       EventType = "NETWORK_REQUEST"
	EventCryptoOperation      EventType = "CRYPTO_OPERATION"
	EventCryptoRandom         EventType = "CRYPTO_RANDOM"
	EventActiveXCreate        EventType = "ACTIVEX_CREATE"
	EventActiveXExecution     EventType = "ACTIVEX_EXECUTION"
	EventLocationChange       EventType = "LOCATION_CHANGE"
	EventEnvironmentDetection EventType = "ENVIRONMENT_DETECTION"
	EventIndexedDBOpen        EventType = "INDEXEDDB_OPEN"
	EventIndexedDBWrite       EventType = "INDEXEDDB_WRITE"
	EventIndexedDBRead        EventType = "INDEXEDDB_READ"
	EventBlobCreate           EventType = "BLOB_CREATE"
	EventStorageAccess        EventType = "STORAGE_ACCESS"
	EventCookieAccess         EventType = "COOKIE_ACCESS"
	EventWorkerCreate         EventType = "WORKER_CREATE"
	EventWasmLoad             EventType = "WASM_LOAD"
	EventClipboardAccess      EventType = "CLIPBOARD_ACCESS"
	EventEventListener        EventType = "EVENT_LISTENER"
	EventDoSLimit             EventType = "DOS_LIMIT_EXCEEDED"
)

// Status values for an event.
const (
	StatusNormal  = 0
	StatusFlagged = 1
)

// Event is a single intercepted hostcall. Events are not mutated after
// they are recorded.
type Event struct {
	Type      EventType       `json:"type"`
	Name      string          `json:"name"`
	Args      []jsvalue.Value `json:"args"`
	Result    jsvalue.Value   `json:"result"`
	Metadata  *jsvalue.Map    `json:"metadata"`
	Severity  int             `json:"severity"`
	Status    int             `json:"status"`
	Line      int             `json:"line"`
	Timestamp int64           `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(typ EventType, name string, args []jsvalue.Value, result jsvalue.Value, severity int) Event {
	if args == nil {
		args = []jsvalue.Value{}
	}
	return Event{
		Type:      typ,
		Name:      name,
		Args:      args,
		Result:    result,
		Metadata:  jsvalue.NewMap(),
		Severity:  clampSeverity(severity),
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithMetadata attaches metadata to the event before it is recorded.
func (e Event) WithMetadata(m *jsvalue.Map) Event {
	if m != nil {
		e.Metadata = m
	}
	return e
}

// Flagged marks the event status.
func (e Event) Flagged() Event {
	e.Status = StatusFlagged
	return e
}

func clampSeverity(s int) int {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
