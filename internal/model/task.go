package model

import (
	"encoding/json"
	"sync"
	"time"
)

// Property keys for the task property bag. These carry protocol-transient
// state between the submission path, the gateway, and the orchestrator.
const (
	PropNonce              = "nonce"
	PropMessageID          = "messageId"
	PropMessageHash        = "messageHash"
	PropMessageContent     = "messageContent"
	PropFinalPrompt        = "finalPrompt"
	PropFlags              = "flags"
	PropCustomID           = "customId"
	PropInstanceID         = "instanceId"
	PropBotVariant         = "botVariant"
	PropRemixCustomID      = "remixCustomId"
	PropRemixModal         = "remixModal"
	PropRemixUpscaleID     = "remixUpscaleCustomId"
	PropInpaintCustomID    = "inpaintModalCustomId"
	PropMessageHandled     = "messageHandled"
	PropExtendPrompt       = "extendPrompt"
	PropExtendMotion       = "extendMotion"
	PropExtendIndex        = "extendIndex"
	PropExtendSourceTaskID = "extendSourceTaskId"
	PropExtendDone         = "extendUpscaleCompleted"
)

// Task is one logical generation/edit operation tracked end to end.
//
// Fields are guarded by mu; mutate through the setters so that waiters
// blocked in WaitChange observe updates. The zero value is not usable,
// construct with NewTask.
type Task struct {
	mu      sync.Mutex
	changed chan struct{}
	done    chan struct{}

	ID          string     `json:"id"`
	ParentID    string     `json:"parentId,omitempty"`
	Action      Action     `json:"action"`
	Variant     BotVariant `json:"botType"`
	RealVariant BotVariant `json:"realBotType,omitempty"`
	Status      Status     `json:"status"`

	Prompt     string `json:"prompt"`
	PromptEn   string `json:"promptEn"`
	PromptFull string `json:"promptFull,omitempty"`

	State       string `json:"state,omitempty"`
	Description string `json:"description,omitempty"`
	FailReason  string `json:"failReason,omitempty"`
	Progress    string `json:"progress,omitempty"`

	InstanceID    string `json:"instanceId,omitempty"`
	SubInstanceID string `json:"subInstanceId,omitempty"`
	IsPriority    bool   `json:"isPriority,omitempty"`

	MessageID      string   `json:"messageId,omitempty"`
	MessageIDs     []string `json:"messageIds,omitempty"`
	InteractionID  string   `json:"interactionMetadataId,omitempty"`
	Nonce          string   `json:"nonce,omitempty"`
	JobID          string   `json:"jobId,omitempty"`
	ModalMessageID string   `json:"modalMessageId,omitempty"`
	DialogPending  bool     `json:"dialogPending,omitempty"`
	AutoConfirm    bool     `json:"autoConfirm,omitempty"`

	SubmitTime int64 `json:"submitTime,omitempty"`
	StartTime  int64 `json:"startTime,omitempty"`
	FinishTime int64 `json:"finishTime,omitempty"`

	ImageURL    string `json:"imageUrl,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Seed        string `json:"seed,omitempty"`
	SeedMsgID   string `json:"seedMessageId,omitempty"`

	Buttons    []Button          `json:"buttons,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NewTask creates a task in NOT_STARTED with its submit timestamp set.
func NewTask(id string, action Action, variant BotVariant) *Task {
	return &Task{
		ID:         id,
		Action:     action,
		Variant:    variant,
		Status:     StatusNotStarted,
		SubmitTime: time.Now().UnixMilli(),
		Properties: map[string]string{},
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ServingVariant is the variant actually executing the task.
func (t *Task) ServingVariant() BotVariant {
	if t.RealVariant != "" {
		return t.RealVariant
	}
	return t.Variant
}

// Lock and Unlock expose the task's guard for compound read-check-update
// sequences in poll loops.
func (t *Task) Lock()   { t.mu.Lock() }
func (t *Task) Unlock() { t.mu.Unlock() }

// GetProperty reads from the property bag.
func (t *Task) GetProperty(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Properties[key]
}

// SetProperty writes to the property bag and wakes waiters.
func (t *Task) SetProperty(key, value string) {
	t.mu.Lock()
	if t.Properties == nil {
		t.Properties = map[string]string{}
	}
	t.Properties[key] = value
	t.signalLocked()
	t.mu.Unlock()
}

// GetStatus returns the current status under the task lock.
func (t *Task) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// SetStatus transitions the state machine and wakes waiters.
func (t *Task) SetStatus(s Status) {
	t.mu.Lock()
	t.Status = s
	t.signalLocked()
	t.mu.Unlock()
}

// Start marks the task submitted and stamps its start time.
func (t *Task) Start() {
	t.mu.Lock()
	t.Status = StatusSubmitted
	t.StartTime = time.Now().UnixMilli()
	t.Progress = "0%"
	t.signalLocked()
	t.mu.Unlock()
}

// Succeed moves the task to SUCCESS. Idempotent on terminal tasks.
func (t *Task) Succeed() {
	t.mu.Lock()
	if !t.Status.Terminal() {
		t.Status = StatusSuccess
		t.FinishTime = time.Now().UnixMilli()
		t.Progress = "100%"
	}
	t.signalLocked()
	t.mu.Unlock()
}

// Fail moves the task to FAILURE with a reason. Idempotent on terminal tasks.
func (t *Task) Fail(reason string) {
	t.mu.Lock()
	if !t.Status.Terminal() {
		t.Status = StatusFailure
		t.FailReason = reason
		t.FinishTime = time.Now().UnixMilli()
	}
	t.signalLocked()
	t.mu.Unlock()
}

// RecordMessageID appends a platform message id to the task's accumulated
// history and makes it the current message id.
func (t *Task) RecordMessageID(id string) {
	t.mu.Lock()
	t.MessageID = id
	seen := false
	for _, m := range t.MessageIDs {
		if m == id {
			seen = true
			break
		}
	}
	if !seen {
		t.MessageIDs = append(t.MessageIDs, id)
	}
	t.signalLocked()
	t.mu.Unlock()
}

// Signal wakes every goroutine blocked in WaitChange.
func (t *Task) Signal() {
	t.mu.Lock()
	t.signalLocked()
	t.mu.Unlock()
}

func (t *Task) signalLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// ChangeCh returns a channel closed on the next mutation. Callers must grab
// the channel before inspecting state to avoid missed wakeups.
func (t *Task) ChangeCh() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Done returns a channel closed when the task is finalized.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Awake closes the done channel, releasing callers blocked on completion.
// Safe to call more than once.
func (t *Task) Awake() {
	t.mu.Lock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.signalLocked()
	t.mu.Unlock()
}

// Reopen re-arms the done channel for the second phase of a chained task.
// Only the upscale-then-extend chain uses this, guarded by PropExtendDone.
func (t *Task) Reopen() {
	t.mu.Lock()
	select {
	case <-t.done:
		t.done = make(chan struct{})
	default:
	}
	t.Status = StatusSubmitted
	t.FinishTime = 0
	t.Progress = "50%"
	t.signalLocked()
	t.mu.Unlock()
}

// taskRecord mirrors the persistable fields of Task without its guard.
type taskRecord struct {
	ID             string            `json:"id"`
	ParentID       string            `json:"parentId,omitempty"`
	Action         Action            `json:"action"`
	Variant        BotVariant        `json:"botType"`
	RealVariant    BotVariant        `json:"realBotType,omitempty"`
	Status         Status            `json:"status"`
	Prompt         string            `json:"prompt"`
	PromptEn       string            `json:"promptEn"`
	PromptFull     string            `json:"promptFull,omitempty"`
	State          string            `json:"state,omitempty"`
	Description    string            `json:"description,omitempty"`
	FailReason     string            `json:"failReason,omitempty"`
	Progress       string            `json:"progress,omitempty"`
	InstanceID     string            `json:"instanceId,omitempty"`
	SubInstanceID  string            `json:"subInstanceId,omitempty"`
	IsPriority     bool              `json:"isPriority,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
	MessageIDs     []string          `json:"messageIds,omitempty"`
	InteractionID  string            `json:"interactionMetadataId,omitempty"`
	Nonce          string            `json:"nonce,omitempty"`
	JobID          string            `json:"jobId,omitempty"`
	ModalMessageID string            `json:"modalMessageId,omitempty"`
	DialogPending  bool              `json:"dialogPending,omitempty"`
	AutoConfirm    bool              `json:"autoConfirm,omitempty"`
	SubmitTime     int64             `json:"submitTime,omitempty"`
	StartTime      int64             `json:"startTime,omitempty"`
	FinishTime     int64             `json:"finishTime,omitempty"`
	ImageURL       string            `json:"imageUrl,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	Size           int64             `json:"size,omitempty"`
	ContentType    string            `json:"contentType,omitempty"`
	Seed           string            `json:"seed,omitempty"`
	SeedMsgID      string            `json:"seedMessageId,omitempty"`
	Buttons        []Button          `json:"buttons,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// MarshalJSON snapshots the task under its lock so concurrent finalize
// writes cannot tear a persisted record.
func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := taskRecord{
		ID: t.ID, ParentID: t.ParentID, Action: t.Action,
		Variant: t.Variant, RealVariant: t.RealVariant, Status: t.Status,
		Prompt: t.Prompt, PromptEn: t.PromptEn, PromptFull: t.PromptFull,
		State: t.State, Description: t.Description, FailReason: t.FailReason,
		Progress: t.Progress, InstanceID: t.InstanceID, SubInstanceID: t.SubInstanceID,
		IsPriority: t.IsPriority, MessageID: t.MessageID,
		MessageIDs:    append([]string(nil), t.MessageIDs...),
		InteractionID: t.InteractionID, Nonce: t.Nonce, JobID: t.JobID,
		ModalMessageID: t.ModalMessageID, DialogPending: t.DialogPending,
		AutoConfirm: t.AutoConfirm, SubmitTime: t.SubmitTime, StartTime: t.StartTime,
		FinishTime: t.FinishTime, ImageURL: t.ImageURL, Width: t.Width,
		Height: t.Height, Size: t.Size, ContentType: t.ContentType,
		Seed: t.Seed, SeedMsgID: t.SeedMsgID,
		Buttons:    append([]Button(nil), t.Buttons...),
		Properties: make(map[string]string, len(t.Properties)),
	}
	for k, v := range t.Properties {
		rec.Properties[k] = v
	}
	return json.Marshal(rec)
}

// UnmarshalJSON restores a task from storage, re-arming its channels.
func (t *Task) UnmarshalJSON(data []byte) error {
	var rec taskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	t.ID, t.ParentID, t.Action = rec.ID, rec.ParentID, rec.Action
	t.Variant, t.RealVariant, t.Status = rec.Variant, rec.RealVariant, rec.Status
	t.Prompt, t.PromptEn, t.PromptFull = rec.Prompt, rec.PromptEn, rec.PromptFull
	t.State, t.Description, t.FailReason = rec.State, rec.Description, rec.FailReason
	t.Progress, t.InstanceID, t.SubInstanceID = rec.Progress, rec.InstanceID, rec.SubInstanceID
	t.IsPriority, t.MessageID, t.MessageIDs = rec.IsPriority, rec.MessageID, rec.MessageIDs
	t.InteractionID, t.Nonce, t.JobID = rec.InteractionID, rec.Nonce, rec.JobID
	t.ModalMessageID, t.DialogPending, t.AutoConfirm = rec.ModalMessageID, rec.DialogPending, rec.AutoConfirm
	t.SubmitTime, t.StartTime, t.FinishTime = rec.SubmitTime, rec.StartTime, rec.FinishTime
	t.ImageURL, t.Width, t.Height = rec.ImageURL, rec.Width, rec.Height
	t.Size, t.ContentType = rec.Size, rec.ContentType
	t.Seed, t.SeedMsgID = rec.Seed, rec.SeedMsgID
	t.Buttons, t.Properties = rec.Buttons, rec.Properties
	if t.Properties == nil {
		t.Properties = map[string]string{}
	}
	t.changed = make(chan struct{})
	t.done = make(chan struct{})
	if t.Status.Terminal() {
		close(t.done)
	}
	return nil
}
