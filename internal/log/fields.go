package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldWorkspace   = "workspace"
	FieldToken       = "token"
	FieldAttempt     = "attempt"
	FieldEntryID     = "entry_id"
	FieldBudgetID    = "budget_id"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldMonth       = "month"
	FieldYear        = "year"
	FieldPendingIns  = "pending_inserts"
	FieldPendingUpd  = "pending_updates"
	FieldPendingDel  = "pending_deletes"
	FieldMutations   = "mutations"
	FieldDuration    = "duration_ms"
	FieldSnapshotDir = "snapshot_dir"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentStore     = "store"
	ComponentWorkspace = "workspace"
	ComponentScheduler = "scheduler"
	ComponentCursor    = "cursor"
	ComponentLedger    = "ledger"
	ComponentWidget    = "widget"
	ComponentNotify    = "notify"
)

// Operations defines standard operation names
const (
	OpCommit   = "commit"
	OpFlush    = "flush"
	OpAutosave = "autosave"
	OpFetch    = "fetch"
	OpUpsert   = "upsert"
	OpDelete   = "delete"
	OpReset    = "reset"
	OpPublish  = "publish"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
